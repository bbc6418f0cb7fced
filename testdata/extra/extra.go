package extra

func Default(s string) string { return "extra:" + s }
