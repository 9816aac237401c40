/*
Copyright The Helm Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package events provides the event system of a chart repository.

This is not a general purpose event framework. It is a system for telling
interested components that repository content changed. A Bus binds event
types to handlers. Publishing an event calls every handler bound to its
type, in the order they were subscribed, on the publishing goroutine.

Handlers must therefore return quickly. A handler that has real work to do
records the fact and hands the work to a goroutine of its own.
*/
package events
