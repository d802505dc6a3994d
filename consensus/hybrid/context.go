// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package hybrid

import (
	"errors"
	"fmt"
	"reflect"

	mapset "github.com/deckarep/golang-set/v2"
)

var (
	ErrUnsupportedCapability = errors.New("unsupported consensus capability")
	ErrMissingContext        = errors.New("missing consensus context")
)

// Capability names a feature a consensus context provides.
type Capability string

const (
	CapabilityPoW             Capability = "pow"
	CapabilityPostMerge       Capability = "post-merge"
	CapabilityTransitionState Capability = "transition-state"
)

// ConsensusContext is the regime specific state made available to block
// processing.
type ConsensusContext interface {
	Capabilities() mapset.Set[Capability]
}

// Context holds the consensus contexts of both regimes and hands out
// whichever one supports a requested capability. It is immutable and safe
// for concurrent use.
type Context struct {
	pre  ConsensusContext
	post ConsensusContext
}

// NewContext combines the pre- and post-merge consensus contexts.
func NewContext(pre, post ConsensusContext) (*Context, error) {
	if pre == nil || post == nil {
		return nil, ErrMissingContext
	}
	return &Context{pre: pre, post: post}, nil
}

// Pre returns the pre-merge context.
func (c *Context) Pre() ConsensusContext { return c.pre }

// Post returns the post-merge context.
func (c *Context) Post() ConsensusContext { return c.post }

// Capabilities returns the union of both contexts' capabilities.
func (c *Context) Capabilities() mapset.Set[Capability] {
	return c.post.Capabilities().Union(c.pre.Capabilities())
}

// Get returns the context supporting capability, preferring the post-merge
// one. A missing capability is a configuration error.
func (c *Context) Get(capability Capability) (ConsensusContext, error) {
	for _, ctx := range []ConsensusContext{c.post, c.pre} {
		if ctx.Capabilities().Contains(capability) {
			return ctx, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedCapability, capability)
}

// As returns the first context, post-merge first, whose dynamic type is T.
func As[T any](c *Context) (T, error) {
	if ctx, ok := c.post.(T); ok {
		return ctx, nil
	}
	if ctx, ok := c.pre.(T); ok {
		return ctx, nil
	}
	var zero T
	return zero, fmt.Errorf("%w: %v", ErrUnsupportedCapability, reflect.TypeOf((*T)(nil)).Elem())
}
