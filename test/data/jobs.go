package data

type JobRequestData struct {
	Target   string `json:"target"`
	Duration *uint  `json:"duration"`
	Method   string `json:"method"`
	Worker   string `json:"worker"`
}

func duration(seconds uint) *uint {
	return &seconds
}

const (
	Token  = "test-token"
	Method = "HTTP-GET"
)

var Commands = map[string]string{
	Method: "run-job --tag job_{id} --url {target} --seconds {duration}",
}

var InitialJobs = []JobRequestData{
	{"http://example.com", duration(60), Method, "srv1"},
	{"https://example.org/path", duration(120), "http-get", "srv1"},
	{"http://example.net", duration(30), Method, "srv2"},
}

var InvalidJobs = map[string]JobRequestData{
	"unsafe target":    {"http://example.com/;reboot", duration(60), Method, "srv1"},
	"not a url":        {"example.com", duration(60), Method, "srv1"},
	"too long":         {"http://example.com", duration(86401), Method, "srv1"},
	"missing duration": {"http://example.com", nil, Method, "srv1"},
	"unknown method":   {"http://example.com", duration(60), "NOPE", "srv1"},
	"unknown worker":   {"http://example.com", duration(60), Method, "srv9"},
}
