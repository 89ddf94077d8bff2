// Copyright The NRI Plugins Authors. All Rights Reserved.
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

package swappy

import (
	"errors"
)

var (
	// ErrUnknownMapping is returned for an address with no mapping.
	ErrUnknownMapping = errors.New("swappy: unknown mapping")
	// ErrMappingFailed is returned when the kernel fails to create a mapping.
	ErrMappingFailed = errors.New("swappy: failed to create mapping")
	// ErrUnmapFailed is returned when the kernel fails to remove a mapping.
	ErrUnmapFailed = errors.New("swappy: failed to remove mapping")
	// ErrSizeTooLarge is returned for sizes the address space cannot hold.
	ErrSizeTooLarge = errors.New("size too large")
)
