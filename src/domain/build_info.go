package domain

// BuildInfo is set at startup from the linker flags.
var BuildInfo = struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}{
	Version: "dev",
	Commit:  "dirty",
}
