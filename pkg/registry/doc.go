// Package registry provides registry credentials and pull options.
//
// Subpackages:
//   - auth: challenge handling and token retrieval.
//   - digest: remote manifest digest resolution without pulling.
//   - helpers: registry address parsing.
//   - manifest: manifest URL construction.
//
// Credentials come from REPO_USER/REPO_PASS or the Docker config file and its
// credential helpers.
package registry
