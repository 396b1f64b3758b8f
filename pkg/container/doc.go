// Package container implements the runtime client on top of the Docker Engine API.
//
// It snapshots running containers with image defaults stripped, pulls and
// tags images, and stops, removes, recreates and watches containers. Remote
// digests are resolved through the registry without pulling.
//
// Key components:
//   - Client: types.RuntimeClient backed by a Docker API connection.
//   - API: the subset of the Docker client the Client calls.
//   - newSnapshot: turns inspect output into a recreatable types.Snapshot.
//
// Usage example:
//
//	cli, err := container.NewClient(container.ClientOptions{})
//	if err != nil {
//	    return err
//	}
//	snapshot, err := cli.InspectContainer(ctx, types.ContainerRef{Name: "web-1"})
//
// The Docker host, TLS settings and API version come from DOCKER_HOST,
// DOCKER_TLS_VERIFY, DOCKER_CERT_PATH and DOCKER_API_VERSION.
package container
