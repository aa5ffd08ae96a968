package wasmplugin

import (
	"fmt"
	"strings"

	"github.com/nanoem/pluginwasm/runtime"
)

const (
	// guestExportMemory is the name of the memory export in the guest module
	guestExportMemory = "memory"

	allocateFunction = "allocate"
	releaseFunction  = "release"

	modelIOPrefix  = "nanoemApplicationPluginModelIO"
	motionIOPrefix = "nanoemApplicationPluginMotionIO"
)

// Entry point suffixes shared by both plugin kinds. The full export name is
// Kind.Export(suffix).
const (
	ExportInitialize                = "Initialize"
	ExportTerminate                 = "Terminate"
	ExportCreate                    = "Create"
	ExportDestroy                   = "Destroy"
	ExportGetABIVersion             = "GetABIVersion"
	ExportGetName                   = "GetName"
	ExportGetDescription            = "GetDescription"
	ExportGetVersion                = "GetVersion"
	ExportGetFailureReason          = "GetFailureReason"
	ExportGetRecoverySuggestion     = "GetRecoverySuggestion"
	ExportSetLanguage               = "SetLanguage"
	ExportCountAllFunctions         = "CountAllFunctions"
	ExportGetFunctionName           = "GetFunctionName"
	ExportSetFunction               = "SetFunction"
	ExportExecute                   = "Execute"
	ExportSetAudioDescription       = "SetAudioDescription"
	ExportSetCameraDescription      = "SetCameraDescription"
	ExportSetLightDescription       = "SetLightDescription"
	ExportSetInputAudioData         = "SetInputAudioData"
	ExportLoadUIWindowLayout        = "LoadUIWindowLayout"
	ExportGetUIWindowLayoutDataSize = "GetUIWindowLayoutDataSize"
	ExportGetUIWindowLayoutData     = "GetUIWindowLayoutData"
	ExportSetUIComponentLayoutData  = "SetUIComponentLayoutData"
)

// Model I/O entry points.
const (
	ExportSetInputModelData                    = "SetInputModelData"
	ExportGetOutputModelData                   = "GetOutputModelData"
	ExportGetOutputModelDataSize               = "GetOutputModelDataSize"
	ExportSetAllSelectedVertexObjectIndices    = "SetAllSelectedVertexObjectIndices"
	ExportSetAllSelectedMaterialObjectIndices  = "SetAllSelectedMaterialObjectIndices"
	ExportSetAllSelectedBoneObjectIndices      = "SetAllSelectedBoneObjectIndices"
	ExportSetAllSelectedMorphObjectIndices     = "SetAllSelectedMorphObjectIndices"
	ExportSetAllSelectedLabelObjectIndices     = "SetAllSelectedLabelObjectIndices"
	ExportSetAllSelectedRigidBodyObjectIndices = "SetAllSelectedRigidBodyObjectIndices"
	ExportSetAllSelectedJointObjectIndices     = "SetAllSelectedJointObjectIndices"
	ExportSetAllSelectedSoftBodyObjectIndices  = "SetAllSelectedSoftBodyObjectIndices"
)

// Motion I/O entry points.
const (
	ExportSetInputMotionData                = "SetInputMotionData"
	ExportGetOutputMotionData               = "GetOutputMotionData"
	ExportGetOutputMotionDataSize           = "GetOutputMotionDataSize"
	ExportSetInputActiveModelData           = "SetInputActiveModelData"
	ExportSetAllSelectedAccessoryKeyframes  = "SetAllSelectedAccessoryKeyframes"
	ExportSetAllSelectedCameraKeyframes     = "SetAllSelectedCameraKeyframes"
	ExportSetAllSelectedLightKeyframes      = "SetAllSelectedLightKeyframes"
	ExportSetAllSelectedModelKeyframes      = "SetAllSelectedModelKeyframes"
	ExportSetAllSelectedSelfShadowKeyframes = "SetAllSelectedSelfShadowKeyframes"
	ExportSetAllNamedSelectedBoneKeyframes  = "SetAllNamedSelectedBoneKeyframes"
	ExportSetAllNamedSelectedMorphKeyframes = "SetAllNamedSelectedMorphKeyframes"
)

// Kind selects the export set and operation vocabulary of a plugin.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindModelIO
	KindMotionIO
)

func (k Kind) String() string {
	switch k {
	case KindModelIO:
		return "model"
	case KindMotionIO:
		return "motion"
	default:
		return "unknown"
	}
}

// ParseKind accepts "model"/"modelio" and "motion"/"motionio", case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "model", "modelio", "model_io":
		return KindModelIO, nil
	case "motion", "motionio", "motion_io":
		return KindMotionIO, nil
	default:
		return KindUnknown, fmt.Errorf("unknown plugin kind %q", s)
	}
}

// Prefix returns the export name prefix of the kind.
func (k Kind) Prefix() string {
	switch k {
	case KindModelIO:
		return modelIOPrefix
	case KindMotionIO:
		return motionIOPrefix
	default:
		return ""
	}
}

// Export returns the full export name of an entry point.
func (k Kind) Export(suffix string) string {
	return k.Prefix() + suffix
}

func (k Kind) inputData() string {
	if k == KindMotionIO {
		return ExportSetInputMotionData
	}
	return ExportSetInputModelData
}

func (k Kind) outputData() string {
	if k == KindMotionIO {
		return ExportGetOutputMotionData
	}
	return ExportGetOutputModelData
}

func (k Kind) outputDataSize() string {
	if k == KindMotionIO {
		return ExportGetOutputMotionDataSize
	}
	return ExportGetOutputModelDataSize
}

var (
	i32 = runtime.ValueTypeI32

	sigLifecycle   = signature{}
	sigCreate      = signature{results: []runtime.ValueType{i32}}
	sigABIVersion  = signature{results: []runtime.ValueType{i32}}
	sigHandle      = signature{params: []runtime.ValueType{i32}}
	sigGetString   = signature{params: []runtime.ValueType{i32}, results: []runtime.ValueType{i32}}
	sigCount       = signature{params: []runtime.ValueType{i32}, results: []runtime.ValueType{i32}}
	sigIndexString = signature{params: []runtime.ValueType{i32, i32}, results: []runtime.ValueType{i32}}
	sigSetInt      = signature{params: []runtime.ValueType{i32, i32}}
	sigStatus      = signature{params: []runtime.ValueType{i32, i32}}
	sigSetFunction = signature{params: []runtime.ValueType{i32, i32, i32}}
	sigSetData     = signature{params: []runtime.ValueType{i32, i32, i32, i32}}
	sigGetData     = signature{params: []runtime.ValueType{i32, i32, i32, i32}}
	sigSetNamed    = signature{params: []runtime.ValueType{i32, i32, i32, i32, i32}}
	sigUILayout    = signature{params: []runtime.ValueType{i32, i32, i32, i32, i32, i32}}
	sigAllocate    = signature{params: []runtime.ValueType{i32}, results: []runtime.ValueType{i32}}
	sigRelease     = signature{params: []runtime.ValueType{i32}}
)

type signature struct {
	params  []runtime.ValueType
	results []runtime.ValueType
}

func (s signature) String() string {
	return runtime.FormatSignature(s.params, s.results)
}

type exportSpec struct {
	suffix   string
	sig      signature
	required bool
}

// exports lists the entry points of the kind, required ones first in the
// order they are checked.
func (k Kind) exports() []exportSpec {
	specs := []exportSpec{
		{ExportCreate, sigCreate, true},
		{ExportGetName, sigGetString, true},
		{ExportGetVersion, sigGetString, true},
		{ExportSetLanguage, sigSetInt, true},
		{ExportCountAllFunctions, sigCount, true},
		{ExportGetFunctionName, sigIndexString, true},
		{ExportSetFunction, sigSetFunction, true},
		{k.inputData(), sigSetData, true},
		{ExportExecute, sigStatus, true},
		{k.outputData(), sigGetData, true},
		{k.outputDataSize(), sigStatus, true},
		{ExportGetFailureReason, sigGetString, true},
		{ExportDestroy, sigHandle, true},

		{ExportInitialize, sigLifecycle, false},
		{ExportTerminate, sigLifecycle, false},
		{ExportGetABIVersion, sigABIVersion, false},
		{ExportGetDescription, sigGetString, false},
		{ExportGetRecoverySuggestion, sigGetString, false},
		{ExportSetAudioDescription, sigSetData, false},
		{ExportSetCameraDescription, sigSetData, false},
		{ExportSetLightDescription, sigSetData, false},
		{ExportSetInputAudioData, sigSetData, false},
		{ExportLoadUIWindowLayout, sigStatus, false},
		{ExportGetUIWindowLayoutDataSize, sigStatus, false},
		{ExportGetUIWindowLayoutData, sigGetData, false},
		{ExportSetUIComponentLayoutData, sigUILayout, false},
	}
	switch k {
	case KindModelIO:
		for _, s := range []string{
			ExportSetAllSelectedVertexObjectIndices,
			ExportSetAllSelectedMaterialObjectIndices,
			ExportSetAllSelectedBoneObjectIndices,
			ExportSetAllSelectedMorphObjectIndices,
			ExportSetAllSelectedLabelObjectIndices,
			ExportSetAllSelectedRigidBodyObjectIndices,
			ExportSetAllSelectedJointObjectIndices,
			ExportSetAllSelectedSoftBodyObjectIndices,
		} {
			specs = append(specs, exportSpec{s, sigSetData, false})
		}
	case KindMotionIO:
		for _, s := range []string{
			ExportSetAllSelectedAccessoryKeyframes,
			ExportSetAllSelectedCameraKeyframes,
			ExportSetAllSelectedLightKeyframes,
			ExportSetAllSelectedModelKeyframes,
			ExportSetAllSelectedSelfShadowKeyframes,
			ExportSetInputActiveModelData,
		} {
			specs = append(specs, exportSpec{s, sigSetData, false})
		}
		specs = append(specs,
			exportSpec{ExportSetAllNamedSelectedBoneKeyframes, sigSetNamed, false},
			exportSpec{ExportSetAllNamedSelectedMorphKeyframes, sigSetNamed, false},
		)
	}
	return specs
}

// Status is the value a guest writes into a status cell.
type Status int32

const (
	StatusSuccess            Status = 0
	StatusErrorNullObject    Status = -1
	StatusErrorUnknownOption Status = -2
	// StatusErrorReferReason tells the host to fetch the failure reason and
	// recovery suggestion strings.
	StatusErrorReferReason Status = -3
)

// String returns the string representation of the status code
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusErrorNullObject:
		return "ERROR_NULL_OBJECT"
	case StatusErrorUnknownOption:
		return "ERROR_UNKNOWN_OPTION"
	case StatusErrorReferReason:
		return "ERROR_REFER_REASON"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(s))
	}
}

// CurrentABIMajor is the wire contract major version of both kinds.
const CurrentABIMajor = 2

// ABIVersion is a packed (major << 16) | minor value.
type ABIVersion uint32

// NewABIVersion packs major and minor.
func NewABIVersion(major, minor uint16) ABIVersion {
	return ABIVersion(uint32(major)<<16 | uint32(minor))
}

func (v ABIVersion) Major() uint16 { return uint16(v >> 16) }
func (v ABIVersion) Minor() uint16 { return uint16(v) }

func (v ABIVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major(), v.Minor())
}
