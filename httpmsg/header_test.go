// Copyright 2026 The httpcore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderCaseInsensitiveLookupPreservesEmissionCase(t *testing.T) {
	var h Header
	h.Add("Content-Type", "text/plain")

	assert.Equal(t, "text/plain", h.Get("content-type"))
	assert.Equal(t, "text/plain", h.Get("CONTENT-TYPE"))
	assert.Equal(t, []string{"Content-Type"}, h.Names())
}

func TestHeaderDuplicateNamesAccumulate(t *testing.T) {
	var h Header
	h.Add("X-Forwarded-For", "1.1.1.1")
	h.Add("X-Forwarded-For", "2.2.2.2")

	assert.Equal(t, []string{"1.1.1.1", "2.2.2.2"}, h.Values("x-forwarded-for"))
	assert.Equal(t, 1, h.Count())
}

func TestHeaderSetReplacesValues(t *testing.T) {
	var h Header
	h.Add("Accept", "text/html")
	h.Set("Accept", "application/json")

	assert.Equal(t, []string{"application/json"}, h.Values("accept"))
}

func TestHeaderDel(t *testing.T) {
	var h Header
	h.Add("X-A", "1")
	h.Add("X-B", "2")
	h.Del("X-A")

	assert.False(t, h.Has("x-a"))
	assert.Equal(t, []string{"X-B"}, h.Names())
}
