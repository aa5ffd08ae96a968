package wasmplugin

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Call wrappers. Each one owns the guest allocations it makes: they are
// taken in argument order and released newest first on every return path.
// Status cells are read before they are released.

func (p *Plugin) callLifecycle(ctx context.Context, suffix string) error {
	name := p.kind.Export(suffix)
	if p.module.Function(name) == nil {
		p.logger.Warn("optional lifecycle export is absent", zap.String("export", name))
		return nil
	}
	_, err := p.call(ctx, name)
	return err
}

func (p *Plugin) createOpaque(ctx context.Context) (uint32, error) {
	name := p.kind.Export(ExportCreate)
	res, err := p.call(ctx, name)
	if err != nil {
		return 0, err
	}
	if len(res) != 1 {
		return 0, fmt.Errorf("wasm: %s returned %d values: %w", name, len(res), ErrMarshal)
	}
	return uint32(res[0]), nil
}

func (p *Plugin) destroyOpaque(ctx context.Context) {
	name := p.kind.Export(ExportDestroy)
	if p.module.Function(name) == nil {
		p.logger.Warn("destroy export is absent", zap.String("export", name))
		return
	}
	if _, err := p.call(ctx, name, uint64(p.handle)); err != nil {
		p.logger.Warn("guest trapped in destroy", zap.Error(err))
	}
}

// getString calls a (handle, args...) -> ptr export and reads the string.
// Without a handle or export it yields "".
func (p *Plugin) getString(ctx context.Context, suffix string, args ...uint64) (string, error) {
	if err := p.usable(); err != nil {
		return "", err
	}
	if !p.hasHandle || !p.exported(suffix) {
		return "", nil
	}
	res, err := p.call(ctx, p.kind.Export(suffix), append([]uint64{uint64(p.handle)}, args...)...)
	if err != nil {
		return "", err
	}
	ptr := uint32(res[0])
	if ptr == 0 {
		return "", nil
	}
	return p.mem.ReadUTF8String(ptr)
}

// statusCall invokes (handle, args..., status_ptr) and returns the status.
func (p *Plugin) statusCall(ctx context.Context, suffix string, args ...uint64) (st Status, err error) {
	scope := p.mem.scope(ctx)
	defer func() { err = multierr.Append(err, scope.release()) }()

	statusPtr, err := scope.cell()
	if err != nil {
		return 0, err
	}
	params := make([]uint64, 0, len(args)+2)
	params = append(params, uint64(p.handle))
	params = append(params, args...)
	params = append(params, uint64(statusPtr))
	if _, err := p.call(ctx, p.kind.Export(suffix), params...); err != nil {
		return 0, err
	}
	return p.readStatus(statusPtr)
}

func (p *Plugin) readStatus(ptr uint32) (Status, error) {
	v, err := p.mem.ReadUint32(ptr)
	if err != nil {
		return 0, err
	}
	return Status(int32(v)), nil
}

// statusError turns a non-zero status into a *GuestReportedError. For
// StatusErrorReferReason the reason and suggestion are fetched right away.
func (p *Plugin) statusError(ctx context.Context, suffix string, st Status) error {
	if st == StatusSuccess {
		return nil
	}
	p.metrics.guestFailure(p.kind, st)
	gerr := &GuestReportedError{Export: p.kind.Export(suffix), Status: st}
	if st == StatusErrorReferReason {
		var err error
		if gerr.Reason, err = p.getString(ctx, ExportGetFailureReason); err != nil {
			p.logger.Warn("failed to fetch failure reason", zap.Error(err))
		}
		if gerr.Suggestion, err = p.getString(ctx, ExportGetRecoverySuggestion); err != nil {
			p.logger.Warn("failed to fetch recovery suggestion", zap.Error(err))
		}
	}
	return gerr
}

// getData reads a variable-size buffer through a (size_fn, data_fn) pair.
func (p *Plugin) getData(ctx context.Context, sizeSuffix, dataSuffix string) (data []byte, err error) {
	scope := p.mem.scope(ctx)
	defer func() {
		if rerr := scope.release(); rerr != nil {
			err = multierr.Append(err, rerr)
			data = nil
		}
	}()

	sizePtr, err := scope.cell()
	if err != nil {
		return nil, err
	}
	if _, err := p.call(ctx, p.kind.Export(sizeSuffix), uint64(p.handle), uint64(sizePtr)); err != nil {
		return nil, err
	}
	size, err := p.mem.ReadUint32(sizePtr)
	if err != nil {
		return nil, err
	}
	bufPtr, err := scope.bytes(size)
	if err != nil {
		return nil, err
	}
	statusPtr, err := scope.cell()
	if err != nil {
		return nil, err
	}
	if _, err := p.call(ctx, p.kind.Export(dataSuffix), uint64(p.handle), uint64(bufPtr), uint64(size), uint64(statusPtr)); err != nil {
		return nil, err
	}
	st, err := p.readStatus(statusPtr)
	if err != nil {
		return nil, err
	}
	if err := p.statusError(ctx, dataSuffix, st); err != nil {
		return nil, err
	}
	return p.mem.ReadBytes(bufPtr, size)
}

// setData feeds (handle, data_ptr, element_count, status_ptr). An absent
// optional export is skipped.
func (p *Plugin) setData(ctx context.Context, suffix string, data []byte, componentSize int) (err error) {
	if err := p.usable(); err != nil {
		return err
	}
	if !p.hasHandle {
		return nil
	}
	fn := p.module.Function(p.kind.Export(suffix))
	if fn == nil {
		return nil
	}
	if def := fn.Definition(); !def.Matches(sigSetData.params, sigSetData.results) {
		return mismatchedExportError(def.Name, def.Signature(), sigSetData.String())
	}

	scope := p.mem.scope(ctx)
	defer func() { err = multierr.Append(err, scope.release()) }()

	dataPtr, err := scope.data(data)
	if err != nil {
		return err
	}
	statusPtr, err := scope.cell()
	if err != nil {
		return err
	}
	count := uint32(len(data) / componentSize)
	if _, err := p.call(ctx, p.kind.Export(suffix), uint64(p.handle), uint64(dataPtr), uint64(count), uint64(statusPtr)); err != nil {
		return err
	}
	st, err := p.readStatus(statusPtr)
	if err != nil {
		return err
	}
	return p.statusError(ctx, suffix, st)
}

// setNamedData feeds (handle, name_ptr, data_ptr, element_count, status_ptr).
func (p *Plugin) setNamedData(ctx context.Context, suffix, name string, data []byte, componentSize int) (err error) {
	if err := p.usable(); err != nil {
		return err
	}
	if strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("wasm: name %q contains NUL: %w", name, ErrMarshal)
	}
	if !p.hasHandle {
		return nil
	}
	fn := p.module.Function(p.kind.Export(suffix))
	if fn == nil {
		return nil
	}
	if def := fn.Definition(); !def.Matches(sigSetNamed.params, sigSetNamed.results) {
		return mismatchedExportError(def.Name, def.Signature(), sigSetNamed.String())
	}

	scope := p.mem.scope(ctx)
	defer func() { err = multierr.Append(err, scope.release()) }()

	namePtr, err := scope.cstring(name)
	if err != nil {
		return err
	}
	dataPtr, err := scope.data(data)
	if err != nil {
		return err
	}
	statusPtr, err := scope.cell()
	if err != nil {
		return err
	}
	count := uint32(len(data) / componentSize)
	if _, err := p.call(ctx, p.kind.Export(suffix), uint64(p.handle), uint64(namePtr), uint64(dataPtr), uint64(count), uint64(statusPtr)); err != nil {
		return err
	}
	st, err := p.readStatus(statusPtr)
	if err != nil {
		return err
	}
	return p.statusError(ctx, suffix, st)
}

// setUIComponentLayout feeds (handle, id_ptr, data_ptr, data_len, reload_ptr,
// status_ptr) and reports the reload flag the guest wrote.
func (p *Plugin) setUIComponentLayout(ctx context.Context, id string, data []byte) (reload bool, err error) {
	scope := p.mem.scope(ctx)
	defer func() {
		if rerr := scope.release(); rerr != nil {
			err = multierr.Append(err, rerr)
			reload = false
		}
	}()

	idPtr, err := scope.cstring(id)
	if err != nil {
		return false, err
	}
	dataPtr, err := scope.data(data)
	if err != nil {
		return false, err
	}
	reloadPtr, err := scope.cell()
	if err != nil {
		return false, err
	}
	statusPtr, err := scope.cell()
	if err != nil {
		return false, err
	}
	name := p.kind.Export(ExportSetUIComponentLayoutData)
	if _, err := p.call(ctx, name, uint64(p.handle), uint64(idPtr), uint64(dataPtr), uint64(len(data)), uint64(reloadPtr), uint64(statusPtr)); err != nil {
		return false, err
	}
	st, err := p.readStatus(statusPtr)
	if err != nil {
		return false, err
	}
	flag, err := p.mem.ReadUint32(reloadPtr)
	if err != nil {
		return false, err
	}
	if err := p.statusError(ctx, ExportSetUIComponentLayoutData, st); err != nil {
		return false, err
	}
	return flag != 0, nil
}
