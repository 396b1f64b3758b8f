package container

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	dockerContainer "github.com/docker/docker/api/types/container"
	dockerImage "github.com/docker/docker/api/types/image"
	dockerMount "github.com/docker/docker/api/types/mount"
	dockerNetwork "github.com/docker/docker/api/types/network"
	dockerClient "github.com/docker/docker/client"
	dockerNat "github.com/docker/go-connections/nat"
	dockerspec "github.com/moby/docker-image-spec/specs-go/v1"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/nicholas-fedor/imagekeeper/pkg/container/mocks"
	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

const (
	webID        = "b978af0b858aa8855cce46b628817d4ed58e58f2c4f66c9b9c5449134ed4c008"
	newWebID     = "1f6b79d2aff23244382026c76f4995851322bed5f9c50631620162f6f9aafbd6"
	nginxImageID = "sha256:904b8cb13b932e23230836850610fa45dce9eb0650d5618c2b1487c2a4f577b8"
	nginxDigest  = "sha256:d68e1e532088964195ad3a0a71526bc2f11a78de0def85629beb75e2265f0547"
	anonVolume   = "ae8964ba86c7cd7522cf84e09781343d88e0e3543281c747d88b27e246578b65"
)

type staticResolver struct {
	digest types.Digest
	err    error
}

func (r staticResolver) Resolve(context.Context, string, string) (types.Digest, error) {
	return r.digest, r.err
}

func webContainer(state dockerContainer.State) *dockerContainer.InspectResponse {
	return &dockerContainer.InspectResponse{
		ContainerJSONBase: &dockerContainer.ContainerJSONBase{
			ID:    webID,
			Name:  "/web-1",
			Image: nginxImageID,
			State: &state,
			HostConfig: &dockerContainer.HostConfig{
				PortBindings: dockerNat.PortMap{
					"80/tcp": []dockerNat.PortBinding{{HostIP: "0.0.0.0", HostPort: "8080"}},
				},
				Binds:         []string{"/srv/www:/usr/share/nginx/html:ro"},
				RestartPolicy: dockerContainer.RestartPolicy{Name: "unless-stopped"},
			},
		},
		Mounts: []dockerContainer.MountPoint{
			{Type: dockerMount.TypeBind, Source: "/srv/www", Destination: "/usr/share/nginx/html"},
			{Type: dockerMount.TypeVolume, Name: anonVolume, Destination: "/var/cache/nginx", RW: true},
		},
		Config: &dockerContainer.Config{
			Hostname:   webID[:12],
			Image:      "nginx:1.25",
			Env:        []string{"PATH=/usr/local/sbin:/usr/bin", "NGINX_PORT=80", "MODE=prod"},
			Entrypoint: []string{"/docker-entrypoint.sh"},
			Cmd:        []string{"nginx", "-g", "daemon off;"},
			Labels:     map[string]string{"maintainer": "NGINX", "app": "web"},
			ExposedPorts: dockerNat.PortSet{
				"80/tcp": struct{}{},
			},
			StopSignal: "SIGQUIT",
		},
		NetworkSettings: &dockerContainer.NetworkSettings{
			Networks: map[string]*dockerNetwork.EndpointSettings{
				"frontend": {Aliases: []string{"web", webID[:12]}},
			},
		},
	}
}

func nginxImage() *dockerImage.InspectResponse {
	return &dockerImage.InspectResponse{
		ID:          nginxImageID,
		RepoTags:    []string{"nginx:1.25"},
		RepoDigests: []string{"nginx@" + nginxDigest},
		Config: &dockerspec.DockerOCIImageConfig{
			ImageConfig: ocispec.ImageConfig{
				Env:          []string{"PATH=/usr/local/sbin:/usr/bin", "NGINX_PORT=80"},
				Entrypoint:   []string{"/docker-entrypoint.sh"},
				Cmd:          []string{"nginx", "-g", "daemon off;"},
				Labels:       map[string]string{"maintainer": "NGINX"},
				ExposedPorts: map[string]struct{}{"80/tcp": {}},
				StopSignal:   "SIGQUIT",
			},
		},
	}
}

var _ = ginkgo.Describe("the client", func() {
	var (
		docker     *dockerClient.Client
		mockServer *ghttp.Server
		client     *Client
		ctx        context.Context
		web        types.ContainerRef
	)

	ginkgo.BeforeEach(func() {
		mockServer = ghttp.NewServer()
		docker, _ = dockerClient.NewClientWithOpts(
			dockerClient.WithHost(mockServer.URL()),
			dockerClient.WithHTTPClient(mockServer.HTTPTestServer.Client()))
		client = NewClientWithAPI(docker, ClientOptions{
			PollInterval: 10 * time.Millisecond,
			Resolver:     staticResolver{digest: nginxDigest},
		})
		ctx = context.Background()
		web = types.ContainerRef{ID: webID, Name: "web-1"}
	})

	ginkgo.AfterEach(func() {
		mockServer.Close()
	})

	ginkgo.It("should report the API version it speaks", func() {
		gomega.Expect(client.GetVersion()).To(gomega.Equal(docker.ClientVersion()))
		gomega.Expect(client.GetVersion()).NotTo(gomega.BeEmpty())
	})

	ginkgo.Describe("InspectContainer", func() {
		ginkgo.It("should snapshot the container without image defaults", func() {
			mockServer.AppendHandlers(
				mocks.GetContainerHandler("web-1", webContainer(dockerContainer.State{Running: true, Status: "running"})),
				mocks.GetImageHandler(nginxImageID, nginxImage()),
			)

			snapshot, err := client.InspectContainer(ctx, types.ContainerRef{Name: "web-1"})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			gomega.Expect(snapshot.Container).To(gomega.Equal(web))
			gomega.Expect(snapshot.Running).To(gomega.BeTrue())
			gomega.Expect(snapshot.Image).To(gomega.Equal(types.ImageReference{
				Repository: "nginx",
				Tag:        "1.25",
				Digest:     nginxDigest,
				ID:         nginxImageID,
			}))
			gomega.Expect(snapshot.Env()).To(gomega.Equal([]string{"MODE=prod"}))
			gomega.Expect(snapshot.Labels()).To(gomega.Equal(map[string]string{"app": "web"}))
			gomega.Expect(snapshot.Config.Entrypoint).To(gomega.BeNil())
			gomega.Expect(snapshot.Config.Cmd).To(gomega.BeNil())
			gomega.Expect(snapshot.Config.Hostname).To(gomega.BeEmpty())
			gomega.Expect(snapshot.Config.StopSignal).To(gomega.BeEmpty())
			gomega.Expect(snapshot.Config.ExposedPorts).To(gomega.HaveKey(dockerNat.Port("80/tcp")))
			gomega.Expect(snapshot.Ports()).To(gomega.ConsistOf("0.0.0.0:8080->80/tcp"))
			gomega.Expect(snapshot.RestartPolicy()).To(gomega.Equal("unless-stopped"))
			gomega.Expect(snapshot.Networks()).To(gomega.ConsistOf("frontend"))
			gomega.Expect(snapshot.NetworkingConfig.EndpointsConfig["frontend"].Aliases).To(gomega.Equal([]string{"web"}))
		})

		ginkgo.It("should keep anonymous volumes attached by name", func() {
			mockServer.AppendHandlers(
				mocks.GetContainerHandler(webID, webContainer(dockerContainer.State{Running: true, Status: "running"})),
				mocks.GetImageHandler(nginxImageID, nginxImage()),
			)

			snapshot, err := client.InspectContainer(ctx, web)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(snapshot.HostConfig.Mounts).To(gomega.ConsistOf(dockerMount.Mount{
				Type:   dockerMount.TypeVolume,
				Source: anonVolume,
				Target: "/var/cache/nginx",
			}))
			gomega.Expect(snapshot.Mounts()).To(gomega.ConsistOf(
				"/srv/www:/usr/share/nginx/html:ro",
				anonVolume+":/var/cache/nginx",
			))
		})

		ginkgo.It("should fail when the container does not exist", func() {
			mockServer.AppendHandlers(mocks.GetContainerHandler("ghost", nil))

			_, err := client.InspectContainer(ctx, types.ContainerRef{Name: "ghost"})
			gomega.Expect(err).To(gomega.MatchError(errInspectContainerFailed))
		})

		ginkgo.It("should fail when the running image cannot be inspected", func() {
			mockServer.AppendHandlers(
				mocks.GetContainerHandler(webID, webContainer(dockerContainer.State{Running: true, Status: "running"})),
				mocks.GetImageHandler(nginxImageID, nil),
			)

			_, err := client.InspectContainer(ctx, web)
			gomega.Expect(err).To(gomega.MatchError(errInspectImageFailed))
		})
	})

	ginkgo.Describe("StopContainer", func() {
		ginkgo.It("should send the container's stop signal and wait for exit", func() {
			mockServer.AppendHandlers(
				mocks.GetContainerHandler(webID, webContainer(dockerContainer.State{Running: true, Status: "running"})),
				mocks.KillContainerHandler(webID, "SIGQUIT", mocks.Found),
				mocks.GetContainerHandler(webID, webContainer(dockerContainer.State{Status: "exited"})),
			)

			gomega.Expect(client.StopContainer(ctx, web, time.Second)).To(gomega.Succeed())
			gomega.Expect(mockServer.ReceivedRequests()).To(gomega.HaveLen(3))
		})

		ginkgo.It("should not signal a container that is not running", func() {
			mockServer.AppendHandlers(
				mocks.GetContainerHandler(webID, webContainer(dockerContainer.State{Status: "exited"})),
			)

			gomega.Expect(client.StopContainer(ctx, web, time.Second)).To(gomega.Succeed())
			gomega.Expect(mockServer.ReceivedRequests()).To(gomega.HaveLen(1))
		})

		ginkgo.It("should fail when the container outlives the timeout", func() {
			mockServer.AppendHandlers(
				mocks.GetContainerHandler(webID, webContainer(dockerContainer.State{Running: true, Status: "running"})),
				mocks.KillContainerHandler(webID, "SIGQUIT", mocks.Found),
			)
			mockServer.RouteToHandler(http.MethodGet, regexp.MustCompile(`/containers/`+webID+`/json$`),
				ghttp.RespondWithJSONEncoded(http.StatusOK,
					webContainer(dockerContainer.State{Running: true, Status: "running"})))

			err := client.StopContainer(ctx, web, 50*time.Millisecond)
			gomega.Expect(err).To(gomega.MatchError(errStopTimeout))
		})

		ginkgo.It("should fail when the signal cannot be delivered", func() {
			mockServer.AppendHandlers(
				mocks.GetContainerHandler(webID, webContainer(dockerContainer.State{Running: true, Status: "running"})),
				ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, gomega.HaveSuffix("/containers/%s/kill", webID)),
					ghttp.RespondWithJSONEncoded(http.StatusInternalServerError, map[string]string{"message": "boom"}),
				),
			)

			err := client.StopContainer(ctx, web, time.Second)
			gomega.Expect(err).To(gomega.MatchError(errStopContainerFailed))
		})
	})

	ginkgo.Describe("RemoveContainer", func() {
		ginkgo.It("should keep volumes", func() {
			mockServer.AppendHandlers(mocks.RemoveContainerHandler(webID, mocks.Found))

			gomega.Expect(client.RemoveContainer(ctx, web)).To(gomega.Succeed())
		})

		ginkgo.It("should treat a missing container as removed", func() {
			mockServer.AppendHandlers(mocks.RemoveContainerHandler(webID, mocks.Missing))

			gomega.Expect(client.RemoveContainer(ctx, web)).To(gomega.Succeed())
		})

		ginkgo.It("should report daemon refusals", func() {
			mockServer.AppendHandlers(mocks.RemoveContainerFailureHandler(webID))

			gomega.Expect(client.RemoveContainer(ctx, web)).To(gomega.MatchError(errRemoveContainerFailed))
		})
	})

	ginkgo.Describe("CreateContainer", func() {
		var snapshot types.Snapshot

		ginkgo.BeforeEach(func() {
			var err error

			info := webContainer(dockerContainer.State{Running: true, Status: "running"})
			snapshot, err = newSnapshot(*info, nginxImage(), types.ImageReference{Repository: "nginx", Tag: "1.25"})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
		})

		ginkgo.It("should create the container under its old name with the new image", func() {
			var body dockerContainer.CreateRequest

			mockServer.AppendHandlers(mocks.CreateContainerHandler("web-1", newWebID, &body))

			ref, err := client.CreateContainer(ctx, snapshot, types.ImageReference{Repository: "nginx", Tag: "1.25"})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(ref).To(gomega.Equal(types.ContainerRef{ID: newWebID, Name: "web-1"}))

			gomega.Expect(body.Image).To(gomega.Equal("nginx:1.25"))
			gomega.Expect(body.Env).To(gomega.Equal([]string{"MODE=prod"}))
			gomega.Expect(body.HostConfig.Binds).To(gomega.Equal([]string{"/srv/www:/usr/share/nginx/html:ro"}))
			gomega.Expect(body.NetworkingConfig.EndpointsConfig).To(gomega.HaveKey("frontend"))
		})

		ginkgo.It("should report name conflicts", func() {
			mockServer.AppendHandlers(mocks.CreateContainerConflictHandler("web-1"))

			_, err := client.CreateContainer(ctx, snapshot, snapshot.Image)
			gomega.Expect(err).To(gomega.MatchError(errCreateContainerFailed))
		})

		ginkgo.When("the API predates multi-network create", func() {
			ginkgo.It("should attach the remaining networks after creation", func() {
				docker, _ = dockerClient.NewClientWithOpts(
					dockerClient.WithHost(mockServer.URL()),
					dockerClient.WithHTTPClient(mockServer.HTTPTestServer.Client()),
					dockerClient.WithVersion("1.43"))
				client = NewClientWithAPI(docker, ClientOptions{Resolver: staticResolver{}})

				snapshot.NetworkingConfig.EndpointsConfig["backend"] = &dockerNetwork.EndpointSettings{}

				var body dockerContainer.CreateRequest

				mockServer.AppendHandlers(
					mocks.CreateContainerHandler("web-1", newWebID, &body),
					ghttp.CombineHandlers(
						ghttp.VerifyRequest(http.MethodPost, gomega.MatchRegexp(`/networks/(frontend|backend)/connect$`)),
						ghttp.RespondWith(http.StatusOK, nil),
					),
				)

				_, err := client.CreateContainer(ctx, snapshot, snapshot.Image)
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				gomega.Expect(body.NetworkingConfig.EndpointsConfig).To(gomega.HaveLen(1))
				gomega.Expect(mockServer.ReceivedRequests()).To(gomega.HaveLen(2))
			})
		})
	})

	ginkgo.Describe("StartContainer", func() {
		ginkgo.It("should start the container", func() {
			mockServer.AppendHandlers(mocks.StartContainerHandler(newWebID))

			gomega.Expect(client.StartContainer(ctx, types.ContainerRef{ID: newWebID, Name: "web-1"})).To(gomega.Succeed())
		})
	})

	ginkgo.Describe("WaitRunning", func() {
		newWeb := types.ContainerRef{ID: newWebID, Name: "web-1"}

		ginkgo.It("should return once the container runs", func() {
			mockServer.AppendHandlers(
				mocks.GetContainerHandler(newWebID, webContainer(dockerContainer.State{Status: "created"})),
				mocks.GetContainerHandler(newWebID, webContainer(dockerContainer.State{Running: true, Status: "running"})),
			)

			gomega.Expect(client.WaitRunning(ctx, newWeb, time.Second)).To(gomega.Succeed())
		})

		ginkgo.It("should wait for a health check to pass", func() {
			mockServer.AppendHandlers(
				mocks.GetContainerHandler(newWebID, webContainer(dockerContainer.State{
					Running: true, Status: "running", Health: &dockerContainer.Health{Status: "starting"},
				})),
				mocks.GetContainerHandler(newWebID, webContainer(dockerContainer.State{
					Running: true, Status: "running", Health: &dockerContainer.Health{Status: "healthy"},
				})),
			)

			gomega.Expect(client.WaitRunning(ctx, newWeb, time.Second)).To(gomega.Succeed())
		})

		ginkgo.It("should fail when the container exits", func() {
			mockServer.AppendHandlers(
				mocks.GetContainerHandler(newWebID, webContainer(dockerContainer.State{Status: "exited", ExitCode: 1})),
			)

			gomega.Expect(client.WaitRunning(ctx, newWeb, time.Second)).To(gomega.MatchError(errContainerExited))
		})

		ginkgo.It("should fail when the container turns unhealthy", func() {
			mockServer.AppendHandlers(
				mocks.GetContainerHandler(newWebID, webContainer(dockerContainer.State{
					Running: true, Status: "running", Health: &dockerContainer.Health{Status: "unhealthy"},
				})),
			)

			gomega.Expect(client.WaitRunning(ctx, newWeb, time.Second)).To(gomega.MatchError(errHealthCheckFailed))
		})

		ginkgo.It("should time out when the container never runs", func() {
			mockServer.RouteToHandler(http.MethodGet, regexp.MustCompile(`/containers/`+newWebID+`/json$`),
				ghttp.RespondWithJSONEncoded(http.StatusOK, webContainer(dockerContainer.State{Status: "created"})))

			gomega.Expect(client.WaitRunning(ctx, newWeb, 50*time.Millisecond)).To(gomega.MatchError(errWaitTimeout))
		})

		ginkgo.It("should stop waiting when the context is cancelled", func() {
			mockServer.RouteToHandler(http.MethodGet, regexp.MustCompile(`/containers/`+newWebID+`/json$`),
				ghttp.RespondWithJSONEncoded(http.StatusOK, webContainer(dockerContainer.State{Status: "created"})))

			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			gomega.Expect(client.WaitRunning(cancelled, newWeb, time.Second)).To(gomega.MatchError(context.Canceled))
		})
	})

	ginkgo.Describe("images", func() {
		ginkgo.It("should pull and resolve the new image", func() {
			mockServer.AppendHandlers(
				mocks.PullImageHandler("nginx", "1.26",
					`{"status":"Pulling from library/nginx","id":"1.26"}`,
					`{"status":"Digest: `+nginxDigest+`"}`),
				mocks.GetImageHandler("nginx:1.26", nginxImage()),
			)

			pulled, err := client.PullImage(ctx, "nginx", "1.26")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(pulled.ID).To(gomega.Equal(types.ImageID(nginxImageID)))
			gomega.Expect(pulled.Digest).To(gomega.Equal(types.Digest(nginxDigest)))
			gomega.Expect(pulled.Tag).To(gomega.Equal("1.26"))
		})

		ginkgo.It("should fail on errors reported inside the pull stream", func() {
			mockServer.AppendHandlers(
				mocks.PullImageHandler("nginx", "1.26",
					`{"errorDetail":{"message":"manifest unknown"},"error":"manifest unknown"}`),
			)

			_, err := client.PullImage(ctx, "nginx", "1.26")
			gomega.Expect(err).To(gomega.MatchError(errReadPullResponseFailed))
		})

		ginkgo.It("should refuse to pull a pinned image", func() {
			_, err := client.PullImage(ctx, "nginx", "")
			gomega.Expect(err).To(gomega.MatchError(types.ErrPinnedImage))
		})

		ginkgo.It("should tag an image", func() {
			mockServer.AppendHandlers(mocks.TagImageHandler(nginxImageID, "nginx", "1.25"))

			gomega.Expect(client.TagImage(ctx, nginxImageID, "nginx", "1.25")).To(gomega.Succeed())
		})

		ginkgo.It("should resolve remote digests through the registry resolver", func() {
			remote, err := client.ResolveRemoteDigest(ctx, "nginx", "1.25")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(remote).To(gomega.Equal(types.Digest(nginxDigest)))
		})
	})

	ginkgo.Describe("ListContainers", func() {
		ginkgo.It("should return running containers by name", func() {
			mockServer.AppendHandlers(ghttp.CombineHandlers(
				func(_ http.ResponseWriter, r *http.Request) {
					gomega.Expect(r.URL.Query().Get("filters")).To(gomega.ContainSubstring(`"imagekeeper.enable=true"`))
				},
				mocks.ListContainersHandler(dockerContainer.Summary{ID: webID, Names: []string{"/web-1"}}),
			))

			refs, err := client.ListContainers(ctx, "imagekeeper.enable")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(refs).To(gomega.Equal([]types.ContainerRef{web}))
		})
	})
})
