// Package modelio hosts plugins that transform a model.
package modelio

import (
	"context"
	"fmt"

	"github.com/nanoem/pluginwasm/wasmplugin"
)

// Category is a kind of model object a selection refers to.
type Category uint8

const (
	Vertex Category = iota
	Material
	Bone
	Morph
	Label
	RigidBody
	Joint
	SoftBody
)

var setters = [...]string{
	Vertex:    wasmplugin.ExportSetAllSelectedVertexObjectIndices,
	Material:  wasmplugin.ExportSetAllSelectedMaterialObjectIndices,
	Bone:      wasmplugin.ExportSetAllSelectedBoneObjectIndices,
	Morph:     wasmplugin.ExportSetAllSelectedMorphObjectIndices,
	Label:     wasmplugin.ExportSetAllSelectedLabelObjectIndices,
	RigidBody: wasmplugin.ExportSetAllSelectedRigidBodyObjectIndices,
	Joint:     wasmplugin.ExportSetAllSelectedJointObjectIndices,
	SoftBody:  wasmplugin.ExportSetAllSelectedSoftBodyObjectIndices,
}

var categoryNames = [...]string{
	Vertex:    "vertex",
	Material:  "material",
	Bone:      "bone",
	Morph:     "morph",
	Label:     "label",
	RigidBody: "rigid_body",
	Joint:     "joint",
	SoftBody:  "soft_body",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("Category(%d)", uint8(c))
}

// Controller is a wasmplugin.Controller for model plugins.
type Controller struct {
	*wasmplugin.Controller
}

// FromPath loads the model plugins in dir.
func FromPath(ctx context.Context, dir string, opts ...wasmplugin.Option) (*Controller, error) {
	c, err := wasmplugin.FromPath(ctx, dir, wasmplugin.KindModelIO, opts...)
	if err != nil {
		return nil, err
	}
	return &Controller{Controller: c}, nil
}

// New wraps c, which must host model plugins.
func New(c *wasmplugin.Controller) (*Controller, error) {
	if c.Kind() != wasmplugin.KindModelIO {
		return nil, fmt.Errorf("modelio: controller hosts %s plugins", c.Kind())
	}
	return &Controller{Controller: c}, nil
}

// SetInputModelData feeds the model the current function operates on.
func (c *Controller) SetInputModelData(ctx context.Context, data []byte) error {
	return c.SetInputData(ctx, data)
}

// SetSelectedIndices feeds the indices of the selected objects of cat.
func (c *Controller) SetSelectedIndices(ctx context.Context, cat Category, indices []int32) error {
	if int(cat) >= len(setters) {
		return fmt.Errorf("modelio: unknown selection category %s", cat)
	}
	return c.SetInt32s(ctx, setters[cat], indices)
}

func (c *Controller) SetAllSelectedVertexIndices(ctx context.Context, indices []int32) error {
	return c.SetSelectedIndices(ctx, Vertex, indices)
}

func (c *Controller) SetAllSelectedMaterialIndices(ctx context.Context, indices []int32) error {
	return c.SetSelectedIndices(ctx, Material, indices)
}

func (c *Controller) SetAllSelectedBoneIndices(ctx context.Context, indices []int32) error {
	return c.SetSelectedIndices(ctx, Bone, indices)
}

func (c *Controller) SetAllSelectedMorphIndices(ctx context.Context, indices []int32) error {
	return c.SetSelectedIndices(ctx, Morph, indices)
}

func (c *Controller) SetAllSelectedLabelIndices(ctx context.Context, indices []int32) error {
	return c.SetSelectedIndices(ctx, Label, indices)
}

func (c *Controller) SetAllSelectedRigidBodyIndices(ctx context.Context, indices []int32) error {
	return c.SetSelectedIndices(ctx, RigidBody, indices)
}

func (c *Controller) SetAllSelectedJointIndices(ctx context.Context, indices []int32) error {
	return c.SetSelectedIndices(ctx, Joint, indices)
}

func (c *Controller) SetAllSelectedSoftBodyIndices(ctx context.Context, indices []int32) error {
	return c.SetSelectedIndices(ctx, SoftBody, indices)
}
