package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flagkit/evalsdk/pkg/flagmodel"
	"github.com/flagkit/evalsdk/pkg/ldvalue"
	"github.com/flagkit/evalsdk/pkg/logger"
)

func TestResolveBoolTypeMismatchIsWrongType(t *testing.T) {
	s := newTestStore(t)
	f := &flagmodel.Flag{
		Key: "f", Version: 1, On: true,
		Variations:  []ldvalue.Value{ldvalue.String("not-a-bool")},
		Fallthrough: flagmodel.VariationOrRollout{Variation: ptrInt(0)},
	}
	initWith(t, s, map[string]*flagmodel.Flag{"f": f}, nil)
	e := NewEvaluator(s, logger.New())

	v, reason := e.ResolveBool("f", true, &flagmodel.User{Key: "u"})
	assert.True(t, v, "default is returned on a type mismatch")
	assert.Equal(t, flagmodel.ErrorWrongType, reason.ErrorKind)
}

func TestResolveBoolMatchingType(t *testing.T) {
	s := newTestStore(t)
	f := &flagmodel.Flag{
		Key: "f", Version: 1, On: true,
		Variations:  []ldvalue.Value{ldvalue.Bool(false), ldvalue.Bool(true)},
		Fallthrough: flagmodel.VariationOrRollout{Variation: ptrInt(1)},
	}
	initWith(t, s, map[string]*flagmodel.Flag{"f": f}, nil)
	e := NewEvaluator(s, logger.New())

	v, reason := e.ResolveBool("f", false, &flagmodel.User{Key: "u"})
	assert.True(t, v)
	assert.Equal(t, flagmodel.ReasonFallthrough, reason.Kind)
}

func TestResolveStringOnErrorReturnsDefault(t *testing.T) {
	s := newTestStore(t)
	initWith(t, s, nil, nil)
	e := NewEvaluator(s, logger.New())

	v, reason := e.ResolveString("missing", "fallback", &flagmodel.User{Key: "u"})
	assert.Equal(t, "fallback", v)
	assert.Equal(t, flagmodel.ErrorFlagNotFound, reason.ErrorKind)
}

func TestResolveNumber(t *testing.T) {
	s := newTestStore(t)
	f := &flagmodel.Flag{
		Key: "f", Version: 1, On: true,
		Variations:  []ldvalue.Value{ldvalue.Int(42)},
		Fallthrough: flagmodel.VariationOrRollout{Variation: ptrInt(0)},
	}
	initWith(t, s, map[string]*flagmodel.Flag{"f": f}, nil)
	e := NewEvaluator(s, logger.New())

	v, _ := e.ResolveNumber("f", -1, &flagmodel.User{Key: "u"})
	assert.Equal(t, 42.0, v)
}

func TestResolveJSONPassesThroughRawValue(t *testing.T) {
	s := newTestStore(t)
	obj := ldvalue.Object(map[string]ldvalue.Value{"k": ldvalue.String("v")})
	f := &flagmodel.Flag{
		Key: "f", Version: 1, On: true,
		Variations:  []ldvalue.Value{obj},
		Fallthrough: flagmodel.VariationOrRollout{Variation: ptrInt(0)},
	}
	initWith(t, s, map[string]*flagmodel.Flag{"f": f}, nil)
	e := NewEvaluator(s, logger.New())

	v, _ := e.ResolveJSON("f", ldvalue.Null, &flagmodel.User{Key: "u"})
	assert.True(t, v.Equal(obj))
}

func TestResolveBoolOnNullVariationReturnsDefault(t *testing.T) {
	s := newTestStore(t)
	f := &flagmodel.Flag{
		Key: "f", Version: 1, On: false, // off with no offVariation -> null
		Variations: []ldvalue.Value{ldvalue.Bool(true)},
	}
	initWith(t, s, map[string]*flagmodel.Flag{"f": f}, nil)
	e := NewEvaluator(s, logger.New())

	v, reason := e.ResolveBool("f", true, &flagmodel.User{Key: "u"})
	assert.True(t, v)
	assert.Equal(t, flagmodel.ReasonOff, reason.Kind)
}
