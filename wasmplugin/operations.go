package wasmplugin

import (
	"context"
	"fmt"
)

// Name returns the guest's display name.
func (p *Plugin) Name(ctx context.Context) (string, error) {
	return p.getString(ctx, ExportGetName)
}

func (p *Plugin) Version(ctx context.Context) (string, error) {
	return p.getString(ctx, ExportGetVersion)
}

func (p *Plugin) Description(ctx context.Context) (string, error) {
	return p.getString(ctx, ExportGetDescription)
}

// FailureReason returns the guest's explanation of its last failure.
func (p *Plugin) FailureReason(ctx context.Context) (string, error) {
	return p.getString(ctx, ExportGetFailureReason)
}

func (p *Plugin) RecoverySuggestion(ctx context.Context) (string, error) {
	return p.getString(ctx, ExportGetRecoverySuggestion)
}

// ABIVersion returns the version the guest was built against, or 0 when it
// does not say.
func (p *Plugin) ABIVersion(ctx context.Context) (ABIVersion, error) {
	if err := p.usable(); err != nil {
		return 0, err
	}
	if !p.exported(ExportGetABIVersion) {
		return 0, nil
	}
	res, err := p.call(ctx, p.kind.Export(ExportGetABIVersion))
	if err != nil {
		return 0, err
	}
	return ABIVersion(uint32(res[0])), nil
}

// CountAllFunctions returns how many functions the plugin offers.
func (p *Plugin) CountAllFunctions(ctx context.Context) (int, error) {
	if err := p.usable(); err != nil {
		return 0, err
	}
	if !p.hasHandle {
		return 0, nil
	}
	res, err := p.call(ctx, p.kind.Export(ExportCountAllFunctions), uint64(p.handle))
	if err != nil {
		return 0, err
	}
	n := int32(uint32(res[0]))
	if n < 0 {
		return 0, nil
	}
	return int(n), nil
}

func (p *Plugin) FunctionName(ctx context.Context, index int) (string, error) {
	if index < 0 {
		return "", fmt.Errorf("wasm: function %d: %w", index, ErrFunctionIndexOutOfBounds)
	}
	return p.getString(ctx, ExportGetFunctionName, uint64(uint32(index)))
}

// Functions returns the names of all functions in guest order.
func (p *Plugin) Functions(ctx context.Context) ([]string, error) {
	n, err := p.CountAllFunctions(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name, err := p.FunctionName(ctx, i)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// SetLanguage forwards the editor UI language.
func (p *Plugin) SetLanguage(ctx context.Context, language int32) error {
	if err := p.usable(); err != nil {
		return err
	}
	if !p.hasHandle {
		return nil
	}
	_, err := p.call(ctx, p.kind.Export(ExportSetLanguage), uint64(p.handle), uint64(uint32(language)))
	return err
}

// SetFunction selects the function the next Execute runs.
func (p *Plugin) SetFunction(ctx context.Context, index int) error {
	if err := p.usable(); err != nil {
		return err
	}
	if !p.hasHandle {
		return nil
	}
	if index < 0 {
		return fmt.Errorf("wasm: function %d: %w", index, ErrFunctionIndexOutOfBounds)
	}
	if err := p.require("set function", StateCreated, StateFunctionSet, StateExecuted); err != nil {
		return err
	}
	st, err := p.statusCall(ctx, ExportSetFunction, uint64(uint32(index)))
	if err != nil {
		return err
	}
	if err := p.statusError(ctx, ExportSetFunction, st); err != nil {
		return err
	}
	p.state = StateFunctionSet
	p.failed = false
	return nil
}

// Execute runs the selected function. A guest-reported failure leaves the
// plugin in StateFunctionSet with Failed set.
func (p *Plugin) Execute(ctx context.Context) error {
	if err := p.require("execute", StateFunctionSet, StateExecuted); err != nil {
		return err
	}
	st, err := p.statusCall(ctx, ExportExecute)
	if err != nil {
		return err
	}
	if err := p.statusError(ctx, ExportExecute, st); err != nil {
		p.state = StateFunctionSet
		p.failed = true
		return err
	}
	p.state = StateExecuted
	p.failed = false
	return nil
}

// OutputData returns the bytes produced by the last successful Execute.
func (p *Plugin) OutputData(ctx context.Context) ([]byte, error) {
	if err := p.require("output data", StateExecuted); err != nil {
		return nil, err
	}
	return p.getData(ctx, p.kind.outputDataSize(), p.kind.outputData())
}

// LoadUIWindowLayout asks the guest to prepare its window layout.
func (p *Plugin) LoadUIWindowLayout(ctx context.Context) error {
	if err := p.require("load ui window layout", StateFunctionSet, StateExecuted); err != nil {
		return err
	}
	if !p.exported(ExportLoadUIWindowLayout) {
		return nil
	}
	st, err := p.statusCall(ctx, ExportLoadUIWindowLayout)
	if err != nil {
		return err
	}
	return p.statusError(ctx, ExportLoadUIWindowLayout, st)
}

// UIWindowLayout returns the serialized layout, or nil when the guest has
// no UI.
func (p *Plugin) UIWindowLayout(ctx context.Context) ([]byte, error) {
	if err := p.require("ui window layout", StateFunctionSet, StateExecuted); err != nil {
		return nil, err
	}
	if !p.exported(ExportGetUIWindowLayoutDataSize) || !p.exported(ExportGetUIWindowLayoutData) {
		return nil, nil
	}
	return p.getData(ctx, ExportGetUIWindowLayoutDataSize, ExportGetUIWindowLayoutData)
}

// SetUIComponentLayout sends a component's state back to the guest and
// reports whether the guest wants the window reloaded.
func (p *Plugin) SetUIComponentLayout(ctx context.Context, id string, data []byte) (bool, error) {
	if err := p.require("set ui component layout", StateFunctionSet, StateExecuted); err != nil {
		return false, err
	}
	if !p.exported(ExportSetUIComponentLayoutData) {
		return false, nil
	}
	return p.setUIComponentLayout(ctx, id, data)
}

// SetData feeds raw bytes to a (handle, ptr, len, status) setter.
func (p *Plugin) SetData(ctx context.Context, suffix string, data []byte) error {
	return p.setData(ctx, suffix, data, 1)
}

// SetInputData feeds the model or motion the plugin operates on.
func (p *Plugin) SetInputData(ctx context.Context, data []byte) error {
	return p.SetData(ctx, p.kind.inputData(), data)
}

// SetInt32s feeds little-endian indices; the element count is len(values).
func (p *Plugin) SetInt32s(ctx context.Context, suffix string, values []int32) error {
	return p.setData(ctx, suffix, int32sToBytes(values), 4)
}

func (p *Plugin) SetUint32s(ctx context.Context, suffix string, values []uint32) error {
	return p.setData(ctx, suffix, uint32sToBytes(values), 4)
}

// SetNamedUint32s feeds values tagged with a bone or morph name.
func (p *Plugin) SetNamedUint32s(ctx context.Context, suffix, name string, values []uint32) error {
	return p.setNamedData(ctx, suffix, name, uint32sToBytes(values), 4)
}
