package runtime

// Capabilities is the engine-neutral description of what a guest may reach
// through WASI.
type Capabilities struct {
	// Name is reported to the guest as argv[0].
	Name string
	// Args follow Name in argv.
	Args []string
	// Env holds KEY=VALUE pairs.
	Env []string
	// Dirs are host directories preopened for the guest.
	Dirs []string
	// InheritStdio connects guest stdout and stderr to the host process.
	// When false both are discarded.
	InheritStdio bool
}

// CapabilityBuilder lets the embedder apply its policy to the capabilities
// of the plugin loaded from path before it is instantiated.
type CapabilityBuilder func(path string, caps *Capabilities)

// Clone returns a deep copy so builders cannot alias shared defaults.
func (c Capabilities) Clone() Capabilities {
	c.Args = append([]string(nil), c.Args...)
	c.Env = append([]string(nil), c.Env...)
	c.Dirs = append([]string(nil), c.Dirs...)
	return c
}
