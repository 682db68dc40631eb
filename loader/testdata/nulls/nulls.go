package nulls

import "unsafe"

func Guarded(p *int) int {
	if p != nil {
		return *p
	}
	return 0
}

func Unguarded(p *int) int {
	return *p
}

func Inverted(p *int) int {
	if p == nil {
		return *p
	}
	return 0
}

func Store(p *int, v int) {
	*p = v
}

func Local() int {
	x := 1
	p := &x
	return *p
}

func Loop(p *int, n int) int {
	sum := 0
	for i := 0; i < n; i++ {
		sum += *p
	}
	return sum
}

func Alias(q *int) int {
	if q == nil {
		return 0
	}
	var keep **int
	for i := 0; i < 2; i++ {
		b := new(*int)
		if i == 0 {
			*b = q
			keep = b
		} else {
			*b = nil
		}
	}
	return **keep
}

func Valid(p *int) bool {
	return p != nil
}

func ViaCall(p *int) int {
	if Valid(p) {
		return *p
	}
	return 0
}

func Unsafe(p unsafe.Pointer) int {
	return *(*int)(p)
}

func Add(a, b int) int {
	return a + b
}

func Slice(s []int) int {
	return s[0]
}
