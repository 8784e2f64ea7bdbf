package grammar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateOrderAndArrayPreservesOrder(t *testing.T) {
	schema := Schema{
		ArgInit:  []string{"run"},
		ArgFlag:  []string{"rm"},
		ArgStr:   []string{"name"},
		ArgArray: []string{"env"},
	}
	params := map[string]interface{}{
		"rm":   true,
		"name": "build1",
		"env":  []string{"A=1", "B=2"},
	}

	res, err := Translate(schema, params)
	require.NoError(t, err)
	assert.Equal(t, []string{"run", "--rm", "--name", "build1", "--env", "A=1", "--env", "B=2"}, res.Argv)
	assert.Empty(t, params)
}

func TestTranslateScalarIntoArrayIsLengthOne(t *testing.T) {
	schema := Schema{ArgArray: []string{"volume"}}
	res, err := Translate(schema, map[string]interface{}{"volume": "/data"})
	require.NoError(t, err)
	assert.Equal(t, []string{"--volume", "/data"}, res.Argv)
}

func TestTranslateArgList(t *testing.T) {
	schema := Schema{ArgList: []string{"entrypoint"}}
	res, err := Translate(schema, map[string]interface{}{"entrypoint": []string{"/bin/sh", "-c"}})
	require.NoError(t, err)
	require.Len(t, res.Argv, 2)
	assert.Equal(t, "--entrypoint", res.Argv[0])
	assert.Equal(t, `[ "/bin/sh", "-c" ]`, res.Argv[1])
}

func TestTranslateExclusiveViolation(t *testing.T) {
	schema := Schema{Exclusive: []string{"all"}, ArgFlag: []string{"all", "force"}}
	_, err := Translate(schema, map[string]interface{}{"all": true, "force": true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exclusive")
}

func TestTranslateExclusiveAlone(t *testing.T) {
	schema := Schema{Exclusive: []string{"all"}, ArgFlag: []string{"all"}}
	res, err := Translate(schema, map[string]interface{}{"all": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"--all"}, res.Argv)
}

func TestTranslateUnrecognizedParamFails(t *testing.T) {
	_, err := Translate(Schema{}, map[string]interface{}{"bogus": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestTranslateBadScalarType(t *testing.T) {
	schema := Schema{ArgFlag: []string{"all"}}
	_, err := Translate(schema, map[string]interface{}{"all": "yes"})
	require.Error(t, err)
}

func TestTranslateExtract(t *testing.T) {
	schema := Schema{Extract: []string{"image"}, ArgInit: []string{"tag"}}
	params := map[string]interface{}{"image": "foo:latest"}
	res, err := Translate(schema, params)
	require.NoError(t, err)
	assert.Equal(t, "foo:latest", res.Extracted["image"])
	assert.Equal(t, []string{"tag"}, res.Argv)
}

func TestTranslateDeterministic(t *testing.T) {
	schema := Schema{ArgInit: []string{"config"}, ArgArray: []string{"env"}, ArgList: []string{"entrypoint"}}
	params := func() map[string]interface{} {
		return map[string]interface{}{
			"env":        []string{"A=1", "B=2"},
			"entrypoint": []string{"/app"},
		}
	}
	r1, err := Translate(schema, params())
	require.NoError(t, err)
	r2, err := Translate(schema, params())
	require.NoError(t, err)
	assert.Equal(t, r1.Argv, r2.Argv)
}
