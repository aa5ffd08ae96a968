// Package wazero registers the wazero engine as runtime type "wazero".
package wazero

import "github.com/nanoem/pluginwasm/runtime"

func init() {
	runtime.Register(runtime.TypeWazero, newWazeroRuntime)
}
