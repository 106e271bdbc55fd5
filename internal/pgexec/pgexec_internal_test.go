// SPDX-License-Identifier: Apache-2.0

package pgexec

import (
	"testing"

	"github.com/lixql/lixql/pkg/lixbackend"
	"github.com/stretchr/testify/assert"
)

func TestNativeArgsUnwrapsValues(t *testing.T) {
	t.Parallel()

	params := []lixbackend.Value{lixbackend.Text("a"), lixbackend.Integer(3), lixbackend.Null()}
	args := nativeArgs(params)
	assert.Equal(t, []any{"a", int64(3), nil}, args)
}

func TestNativeToValueRoundTrip(t *testing.T) {
	t.Parallel()

	assert.True(t, nativeToValue(nil).IsNull())

	v := nativeToValue(int64(7))
	i, ok := v.AsInteger()
	assert.True(t, ok)
	assert.Equal(t, int64(7), i)

	v = nativeToValue("hi")
	s, ok := v.AsText()
	assert.True(t, ok)
	assert.Equal(t, "hi", s)

	v = nativeToValue([]byte("blob"))
	b, ok := v.AsBlob()
	assert.True(t, ok)
	assert.Equal(t, []byte("blob"), b)
}
