package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRuntime struct {
	Runtime
	config Config
}

func TestNewRuntimeUnknownType(t *testing.T) {
	_, err := NewRuntime("does-not-exist", Config{})
	assert.ErrorIs(t, err, ErrRuntimeNotFound)
}

func TestRegisterAndCreate(t *testing.T) {
	Register("stub-create", func(cfg Config) (Runtime, error) {
		return &stubRuntime{config: cfg}, nil
	})

	rt, err := NewRuntime("stub-create", Config{Mode: ModeCompiled})
	require.NoError(t, err)
	stub, ok := rt.(*stubRuntime)
	require.True(t, ok)
	assert.Equal(t, ModeCompiled, stub.config.Mode)
	assert.Contains(t, List(), "stub-create")
}

func TestRegisterDuplicatePanics(t *testing.T) {
	factory := func(Config) (Runtime, error) { return nil, nil }
	Register("stub-dup", factory)
	assert.Panics(t, func() { Register("stub-dup", factory) })
}

func TestConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		want    Mode
		wantErr bool
	}{
		{name: "empty mode defaults to interpreter", config: Config{}, want: ModeInterpreter},
		{name: "compiled", config: Config{Mode: ModeCompiled}, want: ModeCompiled},
		{name: "invalid mode", config: Config{Mode: "jit"}, want: "jit", wantErr: true},
		{name: "too many pages", config: Config{MemoryLimitPages: 70000}, want: ModeInterpreter, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfiguration)
			} else {
				assert.NoError(t, err)
			}
			tt.config.Default()
			assert.Equal(t, tt.want, tt.config.Mode)
		})
	}
}

func TestFunctionDefinition(t *testing.T) {
	def := FunctionDefinition{
		Name:        "f",
		ParamTypes:  []ValueType{ValueTypeI32, ValueTypeI64},
		ResultTypes: nil,
	}
	assert.True(t, def.Matches([]ValueType{ValueTypeI32, ValueTypeI64}, nil))
	assert.True(t, def.Matches([]ValueType{ValueTypeI32, ValueTypeI64}, []ValueType{}))
	assert.False(t, def.Matches([]ValueType{ValueTypeI32}, nil))
	assert.False(t, def.Matches([]ValueType{ValueTypeI32, ValueTypeI32}, nil))
	assert.Equal(t, "(i32, i64) -> ()", def.Signature())
	assert.Equal(t, "unknown(9)", ValueType(9).String())
}

func TestCapabilitiesClone(t *testing.T) {
	orig := Capabilities{Name: "p", Env: []string{"A=1"}}
	c := orig.Clone()
	c.Env[0] = "A=2"
	c.Env = append(c.Env, "B=1")
	assert.Equal(t, []string{"A=1"}, orig.Env)
}
