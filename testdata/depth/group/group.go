package group

func Helper() string { return "helper" }
