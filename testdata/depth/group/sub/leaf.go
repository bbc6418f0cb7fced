package leaf

func Default() string { return "leaf" }
