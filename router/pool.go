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

package router

import "sync"

// ctxPool reuses Context values across requests: allocation pressure
// scales with connection churn, not request churn.
var ctxPool = sync.Pool{
	New: func() any { return &Context{} },
}

func acquireContext() *Context {
	return ctxPool.Get().(*Context)
}

func releaseContext(c *Context) {
	c.reset()
	ctxPool.Put(c)
}
