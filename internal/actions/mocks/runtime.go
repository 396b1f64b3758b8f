// Package mocks provides in-memory fakes of the runtime client and stores for
// testing the update engine.
package mocks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	dockerContainer "github.com/docker/docker/api/types/container"
	dockerNetwork "github.com/docker/docker/api/types/network"

	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

// Op names a runtime client operation.
type Op string

// Runtime client operations.
const (
	OpInspect       Op = "inspect"
	OpResolveRemote Op = "resolve_remote"
	OpPull          Op = "pull"
	OpStop          Op = "stop"
	OpRemove        Op = "remove"
	OpCreate        Op = "create"
	OpStart         Op = "start"
	OpWait          Op = "wait"
	OpResolveLocal  Op = "resolve_local"
	OpTag           Op = "tag"
	OpList          Op = "list"
)

// Errors returned by the fake runtime.
var (
	ErrNoSuchContainer = errors.New("no such container")
	ErrNoSuchImage     = errors.New("no such image")
	ErrNameConflict    = errors.New("container name already in use")
	ErrNotRunning      = errors.New("container is not running")
)

// Call is one recorded runtime call.
type Call struct {
	Op        Op
	Container types.ContainerRef   // Target container, when the call has one.
	Image     types.ImageReference // Image involved, when the call has one.
}

// FailureFunc decides whether a call fails. Returning nil lets it proceed.
type FailureFunc func(call Call) error

// Container is a fake container.
type Container struct {
	ID      types.ContainerID
	Name    string
	Image   types.ImageReference
	Running bool
	Env     []string
	Labels  map[string]string
}

// Runtime is an in-memory types.RuntimeClient.
//
// Images live in a local store keyed by id, tags point at ids, and Registry
// holds what a pull of repository:tag yields. CreateContainer resolves the
// image by tag like a real daemon does.
type Runtime struct {
	mu         sync.Mutex
	containers map[types.ContainerID]*Container
	images     map[types.ImageID]types.ImageReference
	tags       map[string]types.ImageID
	registry   map[string]types.ImageReference
	failures   map[Op][]FailureFunc
	hooks      map[Op]func(Call)
	calls      []Call
	nextID     int
}

// NewRuntime creates an empty fake runtime.
func NewRuntime() *Runtime {
	return &Runtime{
		containers: make(map[types.ContainerID]*Container),
		images:     make(map[types.ImageID]types.ImageReference),
		tags:       make(map[string]types.ImageID),
		registry:   make(map[string]types.ImageReference),
		failures:   make(map[Op][]FailureFunc),
		hooks:      make(map[Op]func(Call)),
	}
}

var _ types.RuntimeClient = (*Runtime)(nil)

// AddImage stores image locally and points its repository:tag at it.
func (r *Runtime) AddImage(image types.ImageReference) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.images[image.ID] = image
	if image.Tag != "" {
		r.tags[image.String()] = image.ID
	}
}

// PublishImage makes image the registry's answer for its repository:tag.
func (r *Runtime) PublishImage(image types.ImageReference) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.registry[image.String()] = image
}

// AddContainer adds a container running image and returns its reference.
func (r *Runtime) AddContainer(name string, image types.ImageReference, running bool) types.ContainerRef {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	c := &Container{
		ID:      types.ContainerID(fmt.Sprintf("ctr-%d", r.nextID)),
		Name:    name,
		Image:   image,
		Running: running,
		Env:     []string{"MODE=production"},
		Labels:  map[string]string{"app": name},
	}
	r.containers[c.ID] = c

	return types.ContainerRef{ID: c.ID, Name: name}
}

// FailOn makes every call of op fail with err.
func (r *Runtime) FailOn(op Op, err error) {
	r.FailWhen(op, func(Call) error { return err })
}

// FailWhen adds a failure rule for op.
func (r *Runtime) FailWhen(op Op, fn FailureFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failures[op] = append(r.failures[op], fn)
}

// OnCall runs hook before every call of op, outside the runtime's lock.
// Hooks may block to hold a call in flight.
func (r *Runtime) OnCall(op Op, hook func(Call)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hooks[op] = hook
}

// Calls returns the recorded calls in order.
func (r *Runtime) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Call(nil), r.calls...)
}

// Ops returns the recorded operations in order, optionally restricted to only.
func (r *Runtime) Ops(only ...Op) []Op {
	keep := make(map[Op]bool, len(only))
	for _, op := range only {
		keep[op] = true
	}

	var ops []Op

	for _, call := range r.Calls() {
		if len(keep) == 0 || keep[call.Op] {
			ops = append(ops, call.Op)
		}
	}

	return ops
}

// CountOf returns how many times op was called.
func (r *Runtime) CountOf(op Op) int {
	return len(r.Ops(op))
}

// Container returns a copy of the container called name.
func (r *Runtime) Container(name string) (Container, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c := r.byName(name); c != nil {
		return *c, true
	}

	return Container{}, false
}

// TaggedImage returns the image id repository:tag points at.
func (r *Runtime) TaggedImage(repository, tag string) types.ImageID {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.tags[repository+":"+tag]
}

// begin records call, runs its hook and evaluates failure rules.
func (r *Runtime) begin(call Call) error {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	hook := r.hooks[call.Op]
	rules := append([]FailureFunc(nil), r.failures[call.Op]...)
	r.mu.Unlock()

	if hook != nil {
		hook(call)
	}

	for _, rule := range rules {
		if err := rule(call); err != nil {
			return err
		}
	}

	return nil
}

func (r *Runtime) byName(name string) *Container {
	name = strings.TrimPrefix(name, "/")

	for _, c := range r.containers {
		if strings.TrimPrefix(c.Name, "/") == name {
			return c
		}
	}

	return nil
}

func (r *Runtime) find(ref types.ContainerRef) *Container {
	if ref.ID != "" {
		return r.containers[ref.ID]
	}

	return r.byName(ref.Name)
}

// imageOf returns the container's image with the digest and id of the image
// it actually runs.
func (r *Runtime) imageOf(c *Container) types.ImageReference {
	image := c.Image
	if stored, ok := r.images[image.ID]; ok {
		image.Digest = stored.Digest
	}

	return image
}

// InspectContainer snapshots a fake container.
func (r *Runtime) InspectContainer(_ context.Context, ref types.ContainerRef) (types.Snapshot, error) {
	if err := r.begin(Call{Op: OpInspect, Container: ref}); err != nil {
		return types.Snapshot{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.find(ref)
	if c == nil {
		return types.Snapshot{}, fmt.Errorf("%w: %s", ErrNoSuchContainer, ref)
	}

	image := r.imageOf(c)

	return types.Snapshot{
		Container: types.ContainerRef{ID: c.ID, Name: c.Name},
		Image:     image,
		Running:   c.Running,
		Config: &dockerContainer.Config{
			Image:  image.String(),
			Env:    append([]string(nil), c.Env...),
			Labels: c.Labels,
		},
		HostConfig: &dockerContainer.HostConfig{
			RestartPolicy: dockerContainer.RestartPolicy{Name: dockerContainer.RestartPolicyUnlessStopped},
		},
		NetworkingConfig: &dockerNetwork.NetworkingConfig{
			EndpointsConfig: map[string]*dockerNetwork.EndpointSettings{"bridge": {}},
		},
	}, nil
}

// ResolveRemoteDigest returns the digest the registry serves for repository:tag.
func (r *Runtime) ResolveRemoteDigest(_ context.Context, repository, tag string) (types.Digest, error) {
	image := types.ImageReference{Repository: repository, Tag: tag}
	if err := r.begin(Call{Op: OpResolveRemote, Image: image}); err != nil {
		return "", err
	}

	if tag == "" {
		return "", types.ErrPinnedImage
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	remote, ok := r.registry[image.String()]
	if !ok {
		return "", fmt.Errorf("%w: manifest unknown for %s", ErrNoSuchImage, image)
	}

	return remote.Digest, nil
}

// PullImage stores the registry's image locally and moves the tag to it.
func (r *Runtime) PullImage(_ context.Context, repository, tag string) (types.ImageReference, error) {
	image := types.ImageReference{Repository: repository, Tag: tag}
	if err := r.begin(Call{Op: OpPull, Image: image}); err != nil {
		return types.ImageReference{}, err
	}

	if tag == "" {
		return types.ImageReference{}, types.ErrPinnedImage
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	remote, ok := r.registry[image.String()]
	if !ok {
		return types.ImageReference{}, fmt.Errorf("%w: manifest unknown for %s", ErrNoSuchImage, image)
	}

	r.images[remote.ID] = remote
	r.tags[image.String()] = remote.ID

	return remote, nil
}

// StopContainer marks the container stopped. Missing containers are ignored.
func (r *Runtime) StopContainer(_ context.Context, ref types.ContainerRef, _ time.Duration) error {
	if err := r.begin(Call{Op: OpStop, Container: ref}); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c := r.find(ref); c != nil {
		c.Running = false
	}

	return nil
}

// RemoveContainer deletes a stopped container. Missing containers are ignored.
func (r *Runtime) RemoveContainer(_ context.Context, ref types.ContainerRef) error {
	if err := r.begin(Call{Op: OpRemove, Container: ref}); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.find(ref)
	if c == nil {
		return nil
	}

	if c.Running {
		return fmt.Errorf("cannot remove running container %s", ref)
	}

	delete(r.containers, c.ID)

	return nil
}

// CreateContainer creates a stopped container from snapshot. The image is
// resolved through its tag, so it runs whatever the tag points at.
func (r *Runtime) CreateContainer(
	_ context.Context,
	snapshot types.Snapshot,
	image types.ImageReference,
) (types.ContainerRef, error) {
	if err := r.begin(Call{Op: OpCreate, Container: snapshot.Container, Image: image}); err != nil {
		return types.ContainerRef{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := snapshot.Container.Name
	if r.byName(name) != nil {
		return types.ContainerRef{}, fmt.Errorf("%w: %s", ErrNameConflict, name)
	}

	id, ok := r.tags[image.String()]
	if !ok {
		return types.ContainerRef{}, fmt.Errorf("%w: %s", ErrNoSuchImage, image)
	}

	resolved := r.images[id]
	resolved.Repository = image.Repository
	resolved.Tag = image.Tag

	r.nextID++
	c := &Container{
		ID:    types.ContainerID(fmt.Sprintf("ctr-%d", r.nextID)),
		Name:  name,
		Image: resolved,
	}

	if snapshot.Config != nil {
		c.Env = append([]string(nil), snapshot.Config.Env...)
		c.Labels = snapshot.Config.Labels
	}

	r.containers[c.ID] = c

	return types.ContainerRef{ID: c.ID, Name: name}, nil
}

// StartContainer marks the container running.
func (r *Runtime) StartContainer(_ context.Context, ref types.ContainerRef) error {
	if err := r.begin(Call{Op: OpStart, Container: ref, Image: r.imageFor(ref)}); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.find(ref)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrNoSuchContainer, ref)
	}

	c.Running = true

	return nil
}

// WaitRunning succeeds when the container is running.
func (r *Runtime) WaitRunning(_ context.Context, ref types.ContainerRef, _ time.Duration) error {
	if err := r.begin(Call{Op: OpWait, Container: ref, Image: r.imageFor(ref)}); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.find(ref)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrNoSuchContainer, ref)
	}

	if !c.Running {
		return fmt.Errorf("%w: %s", ErrNotRunning, ref)
	}

	return nil
}

// ResolveLocalImage returns the image repository:tag points at locally.
func (r *Runtime) ResolveLocalImage(_ context.Context, repository, tag string) (types.ImageReference, error) {
	image := types.ImageReference{Repository: repository, Tag: tag}
	if err := r.begin(Call{Op: OpResolveLocal, Image: image}); err != nil {
		return types.ImageReference{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.tags[image.String()]
	if !ok {
		return types.ImageReference{}, fmt.Errorf("%w: %s", ErrNoSuchImage, image)
	}

	resolved := r.images[id]
	resolved.Repository = repository
	resolved.Tag = tag

	return resolved, nil
}

// TagImage points repository:tag at a stored image.
func (r *Runtime) TagImage(_ context.Context, id types.ImageID, repository, tag string) error {
	image := types.ImageReference{Repository: repository, Tag: tag, ID: id}
	if err := r.begin(Call{Op: OpTag, Image: image}); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.images[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchImage, id)
	}

	r.tags[image.String()] = id

	return nil
}

// ListContainers lists running containers by name, filtered on label=true.
func (r *Runtime) ListContainers(_ context.Context, label string) ([]types.ContainerRef, error) {
	if err := r.begin(Call{Op: OpList}); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var refs []types.ContainerRef

	for _, c := range r.containers {
		if !c.Running {
			continue
		}

		if label != "" && c.Labels[label] != "true" {
			continue
		}

		refs = append(refs, types.ContainerRef{ID: c.ID, Name: c.Name})
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })

	return refs, nil
}

func (r *Runtime) imageFor(ref types.ContainerRef) types.ImageReference {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c := r.find(ref); c != nil {
		return r.imageOf(c)
	}

	return types.ImageReference{}
}
