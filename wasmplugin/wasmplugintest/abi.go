package wasmplugintest

import (
	"strings"

	"github.com/nanoem/pluginwasm/runtime"
)

// Export prefixes as a guest sees them.
const (
	ModelPrefix  = "nanoemApplicationPluginModelIO"
	MotionPrefix = "nanoemApplicationPluginMotionIO"
)

var i32 = runtime.ValueTypeI32

func sig(params, results int) runtime.FunctionDefinition {
	d := runtime.FunctionDefinition{}
	for i := 0; i < params; i++ {
		d.ParamTypes = append(d.ParamTypes, i32)
	}
	for i := 0; i < results; i++ {
		d.ResultTypes = append(d.ResultTypes, i32)
	}
	return d
}

// signatures maps export suffixes to (param count, result count). Every
// parameter and result is i32.
var signatures = map[string][2]int{
	"Initialize":                {0, 0},
	"Terminate":                 {0, 0},
	"Create":                    {0, 1},
	"Destroy":                   {1, 0},
	"GetABIVersion":             {0, 1},
	"GetName":                   {1, 1},
	"GetDescription":            {1, 1},
	"GetVersion":                {1, 1},
	"GetFailureReason":          {1, 1},
	"GetRecoverySuggestion":     {1, 1},
	"SetLanguage":               {2, 0},
	"CountAllFunctions":         {1, 1},
	"GetFunctionName":           {2, 1},
	"SetFunction":               {3, 0},
	"Execute":                   {2, 0},
	"SetAudioDescription":       {4, 0},
	"SetCameraDescription":      {4, 0},
	"SetLightDescription":       {4, 0},
	"SetInputAudioData":         {4, 0},
	"LoadUIWindowLayout":        {2, 0},
	"GetUIWindowLayoutDataSize": {2, 0},
	"GetUIWindowLayoutData":     {4, 0},
	"SetUIComponentLayoutData":  {6, 0},
}

var modelSignatures = map[string][2]int{
	"SetInputModelData":                    {4, 0},
	"GetOutputModelData":                   {4, 0},
	"GetOutputModelDataSize":               {2, 0},
	"SetAllSelectedVertexObjectIndices":    {4, 0},
	"SetAllSelectedMaterialObjectIndices":  {4, 0},
	"SetAllSelectedBoneObjectIndices":      {4, 0},
	"SetAllSelectedMorphObjectIndices":     {4, 0},
	"SetAllSelectedLabelObjectIndices":     {4, 0},
	"SetAllSelectedRigidBodyObjectIndices": {4, 0},
	"SetAllSelectedJointObjectIndices":     {4, 0},
	"SetAllSelectedSoftBodyObjectIndices":  {4, 0},
}

var motionSignatures = map[string][2]int{
	"SetInputMotionData":                {4, 0},
	"GetOutputMotionData":               {4, 0},
	"GetOutputMotionDataSize":           {2, 0},
	"SetInputActiveModelData":           {4, 0},
	"SetAllSelectedAccessoryKeyframes":  {4, 0},
	"SetAllSelectedCameraKeyframes":     {4, 0},
	"SetAllSelectedLightKeyframes":      {4, 0},
	"SetAllSelectedModelKeyframes":      {4, 0},
	"SetAllSelectedSelfShadowKeyframes": {4, 0},
	"SetAllNamedSelectedBoneKeyframes":  {5, 0},
	"SetAllNamedSelectedMorphKeyframes": {5, 0},
}

func signaturesFor(prefix string) map[string][2]int {
	out := make(map[string][2]int, len(signatures)+len(modelSignatures))
	for k, v := range signatures {
		out[k] = v
	}
	extra := modelSignatures
	if prefix == MotionPrefix {
		extra = motionSignatures
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// stride is the element width of a setter's buffer.
func stride(suffix string) uint32 {
	if strings.HasSuffix(suffix, "Indices") || strings.HasSuffix(suffix, "Keyframes") {
		return 4
	}
	return 1
}
