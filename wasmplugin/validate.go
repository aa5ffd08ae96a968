package wasmplugin

import (
	"fmt"

	"github.com/nanoem/pluginwasm/runtime"
)

// Validate checks that mod exports the memory, the allocator pair and every
// entry point kind requires. Optional entry points are checked only when
// present. The error names the first offending export.
func Validate(mod runtime.ModuleInstance, kind Kind) error {
	if kind.Prefix() == "" {
		return fmt.Errorf("wasm: cannot validate plugin of kind %s: %w", kind, ErrInvalidABI)
	}
	if mod.ExportedMemory(guestExportMemory) == nil {
		return missingExportError("memory[" + guestExportMemory + "]")
	}
	if err := checkExport(mod, allocateFunction, sigAllocate, true); err != nil {
		return err
	}
	if err := checkExport(mod, releaseFunction, sigRelease, true); err != nil {
		return err
	}
	for _, e := range kind.exports() {
		if err := checkExport(mod, kind.Export(e.suffix), e.sig, e.required); err != nil {
			return err
		}
	}
	return nil
}

func checkExport(mod runtime.ModuleInstance, name string, sig signature, required bool) error {
	fn := mod.Function(name)
	if fn == nil {
		if required {
			return missingExportError(name)
		}
		return nil
	}
	def := fn.Definition()
	if !def.Matches(sig.params, sig.results) {
		return mismatchedExportError(name, def.Signature(), sig.String())
	}
	return nil
}
