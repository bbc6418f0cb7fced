package math

func Default(a, b int) int { return a + b }

func Double(n int) int { return n * 2 }
