// Package motionio hosts plugins that transform a motion.
package motionio

import (
	"context"
	"fmt"

	"github.com/nanoem/pluginwasm/wasmplugin"
)

// Category is a kind of keyframe a selection refers to.
type Category uint8

const (
	Accessory Category = iota
	Bone
	Camera
	Light
	Model
	Morph
	SelfShadow
)

var categoryNames = [...]string{
	Accessory:  "accessory",
	Bone:       "bone",
	Camera:     "camera",
	Light:      "light",
	Model:      "model",
	Morph:      "morph",
	SelfShadow: "self_shadow",
}

// setters holds the unnamed setters; bone and morph selections are named.
var setters = map[Category]string{
	Accessory:  wasmplugin.ExportSetAllSelectedAccessoryKeyframes,
	Camera:     wasmplugin.ExportSetAllSelectedCameraKeyframes,
	Light:      wasmplugin.ExportSetAllSelectedLightKeyframes,
	Model:      wasmplugin.ExportSetAllSelectedModelKeyframes,
	SelfShadow: wasmplugin.ExportSetAllSelectedSelfShadowKeyframes,
}

var namedSetters = map[Category]string{
	Bone:  wasmplugin.ExportSetAllNamedSelectedBoneKeyframes,
	Morph: wasmplugin.ExportSetAllNamedSelectedMorphKeyframes,
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("Category(%d)", uint8(c))
}

// Named reports whether selections of c carry a bone or morph name.
func (c Category) Named() bool {
	_, ok := namedSetters[c]
	return ok
}

// Controller is a wasmplugin.Controller for motion plugins.
type Controller struct {
	*wasmplugin.Controller
}

// FromPath loads the motion plugins in dir.
func FromPath(ctx context.Context, dir string, opts ...wasmplugin.Option) (*Controller, error) {
	c, err := wasmplugin.FromPath(ctx, dir, wasmplugin.KindMotionIO, opts...)
	if err != nil {
		return nil, err
	}
	return &Controller{Controller: c}, nil
}

// New wraps c, which must host motion plugins.
func New(c *wasmplugin.Controller) (*Controller, error) {
	if c.Kind() != wasmplugin.KindMotionIO {
		return nil, fmt.Errorf("motionio: controller hosts %s plugins", c.Kind())
	}
	return &Controller{Controller: c}, nil
}

// SetInputMotionData feeds the motion the current function operates on.
func (c *Controller) SetInputMotionData(ctx context.Context, data []byte) error {
	return c.SetInputData(ctx, data)
}

// SetInputActiveModelData feeds the model the motion is bound to.
func (c *Controller) SetInputActiveModelData(ctx context.Context, data []byte) error {
	return c.SetData(ctx, wasmplugin.ExportSetInputActiveModelData, data)
}

// SetSelectedKeyframes feeds a selection of cat. Name is required for
// bone and morph selections and must be empty otherwise.
func (c *Controller) SetSelectedKeyframes(ctx context.Context, cat Category, sel wasmplugin.KeyframeSelection) error {
	if !sel.Valid() {
		return fmt.Errorf("motionio: selection name %q contains NUL: %w", sel.Name, wasmplugin.ErrMarshal)
	}
	if suffix, ok := namedSetters[cat]; ok {
		return c.SetNamedUint32s(ctx, suffix, sel.Name, sel.Frames)
	}
	suffix, ok := setters[cat]
	if !ok {
		return fmt.Errorf("motionio: unknown selection category %s", cat)
	}
	if sel.Name != "" {
		return fmt.Errorf("motionio: %s selections are not named", cat)
	}
	return c.SetUint32s(ctx, suffix, sel.Frames)
}

func (c *Controller) SetAllSelectedAccessoryKeyframes(ctx context.Context, frames []uint32) error {
	return c.SetSelectedKeyframes(ctx, Accessory, wasmplugin.KeyframeSelection{Frames: frames})
}

func (c *Controller) SetAllSelectedCameraKeyframes(ctx context.Context, frames []uint32) error {
	return c.SetSelectedKeyframes(ctx, Camera, wasmplugin.KeyframeSelection{Frames: frames})
}

func (c *Controller) SetAllSelectedLightKeyframes(ctx context.Context, frames []uint32) error {
	return c.SetSelectedKeyframes(ctx, Light, wasmplugin.KeyframeSelection{Frames: frames})
}

func (c *Controller) SetAllSelectedModelKeyframes(ctx context.Context, frames []uint32) error {
	return c.SetSelectedKeyframes(ctx, Model, wasmplugin.KeyframeSelection{Frames: frames})
}

func (c *Controller) SetAllSelectedSelfShadowKeyframes(ctx context.Context, frames []uint32) error {
	return c.SetSelectedKeyframes(ctx, SelfShadow, wasmplugin.KeyframeSelection{Frames: frames})
}

func (c *Controller) SetAllNamedSelectedBoneKeyframes(ctx context.Context, name string, frames []uint32) error {
	return c.SetSelectedKeyframes(ctx, Bone, wasmplugin.KeyframeSelection{Name: name, Frames: frames})
}

func (c *Controller) SetAllNamedSelectedMorphKeyframes(ctx context.Context, name string, frames []uint32) error {
	return c.SetSelectedKeyframes(ctx, Morph, wasmplugin.KeyframeSelection{Name: name, Frames: frames})
}
