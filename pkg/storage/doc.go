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
Package storage implements storage for repository assets.

The storage driver persists asset metadata and content. Storage adds the
repository level conveniences the hosted, proxy and index code share:
storing packages under their canonical filename, locating the index and
filtering the components of a repository.
*/
package storage // import "helm.sh/chartrepo/pkg/storage"
