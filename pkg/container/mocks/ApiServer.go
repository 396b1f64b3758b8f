// Package mocks provides ghttp handlers that emulate Docker Engine API
// endpoints for container client tests.
package mocks

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	dockerContainer "github.com/docker/docker/api/types/container"
	dockerImage "github.com/docker/docker/api/types/image"
)

// FoundStatus selects between a found and a not-found response.
type FoundStatus bool

const (
	Found   FoundStatus = true
	Missing FoundStatus = false
)

// Mock response fixture for no-content status (204).
var noContentStatusResponse = ghttp.RespondWith(http.StatusNoContent, nil)

// notFoundResponse mirrors the daemon's "No such ..." error body.
func notFoundResponse(what, id string) http.HandlerFunc {
	return ghttp.RespondWithJSONEncoded(http.StatusNotFound, map[string]string{
		"message": fmt.Sprintf("No such %s: %s", what, id),
	})
}

// errorResponse returns a daemon error with the given status.
func errorResponse(status int, message string) http.HandlerFunc {
	return ghttp.RespondWithJSONEncoded(status, map[string]string{"message": message})
}

// GetContainerHandler serves containerInfo, or a 404 when it is nil.
func GetContainerHandler(containerID string, containerInfo *dockerContainer.InspectResponse) http.HandlerFunc {
	responseHandler := notFoundResponse("container", containerID)
	if containerInfo != nil {
		responseHandler = ghttp.RespondWithJSONEncoded(http.StatusOK, containerInfo)
	}

	return ghttp.CombineHandlers(
		ghttp.VerifyRequest(http.MethodGet, gomega.HaveSuffix("/containers/%s/json", containerID)),
		responseHandler,
	)
}

// GetImageHandler serves imageInfo for an inspect of name, or a 404 when it is nil.
func GetImageHandler(name string, imageInfo *dockerImage.InspectResponse) http.HandlerFunc {
	responseHandler := notFoundResponse("image", name)
	if imageInfo != nil {
		responseHandler = ghttp.RespondWithJSONEncoded(http.StatusOK, imageInfo)
	}

	return ghttp.CombineHandlers(
		ghttp.VerifyRequest(http.MethodGet, gomega.HaveSuffix("/images/%s/json", name)),
		responseHandler,
	)
}

// ListContainersHandler serves summaries for a container list request.
func ListContainersHandler(summaries ...dockerContainer.Summary) http.HandlerFunc {
	if summaries == nil {
		summaries = []dockerContainer.Summary{}
	}

	return ghttp.CombineHandlers(
		ghttp.VerifyRequest(http.MethodGet, gomega.HaveSuffix("/containers/json")),
		ghttp.RespondWithJSONEncoded(http.StatusOK, summaries),
	)
}

// KillContainerHandler expects signal to be sent. Returns 204 if found, 404 if not.
func KillContainerHandler(containerID, signal string, found FoundStatus) http.HandlerFunc {
	responseHandler := noContentStatusResponse
	if !found {
		responseHandler = notFoundResponse("container", containerID)
	}

	return ghttp.CombineHandlers(
		ghttp.VerifyRequest(http.MethodPost, gomega.HaveSuffix("/containers/%s/kill", containerID), "signal="+signal),
		responseHandler,
	)
}

// RemoveContainerHandler expects a removal that keeps volumes. Returns 204 if found, 404 if not.
func RemoveContainerHandler(containerID string, found FoundStatus) http.HandlerFunc {
	responseHandler := noContentStatusResponse
	if !found {
		responseHandler = notFoundResponse("container", containerID)
	}

	return ghttp.CombineHandlers(
		ghttp.VerifyRequest(http.MethodDelete, gomega.HaveSuffix("/containers/%s", containerID)),
		func(_ http.ResponseWriter, r *http.Request) {
			gomega.Expect(r.URL.Query().Get("v")).NotTo(gomega.Equal("1"))
		},
		responseHandler,
	)
}

// RemoveContainerFailureHandler answers a removal with a daemon error.
func RemoveContainerFailureHandler(containerID string) http.HandlerFunc {
	return ghttp.CombineHandlers(
		ghttp.VerifyRequest(http.MethodDelete, gomega.HaveSuffix("/containers/%s", containerID)),
		errorResponse(http.StatusConflict, "You cannot remove a running container"),
	)
}

// CreateContainerHandler expects a create for name and captures the request
// body into body when it is not nil.
func CreateContainerHandler(name, newID string, body *dockerContainer.CreateRequest) http.HandlerFunc {
	return ghttp.CombineHandlers(
		ghttp.VerifyRequest(http.MethodPost, gomega.HaveSuffix("/containers/create"), "name="+name),
		func(_ http.ResponseWriter, r *http.Request) {
			if body != nil {
				gomega.Expect(json.NewDecoder(r.Body).Decode(body)).To(gomega.Succeed())
			}
		},
		ghttp.RespondWithJSONEncoded(http.StatusCreated, dockerContainer.CreateResponse{ID: newID}),
	)
}

// CreateContainerConflictHandler answers a create with a name conflict.
func CreateContainerConflictHandler(name string) http.HandlerFunc {
	return ghttp.CombineHandlers(
		ghttp.VerifyRequest(http.MethodPost, gomega.HaveSuffix("/containers/create"), "name="+name),
		errorResponse(http.StatusConflict, "Conflict. The container name \"/"+name+"\" is already in use"),
	)
}

// StartContainerHandler answers a start request with 204.
func StartContainerHandler(containerID string) http.HandlerFunc {
	return ghttp.CombineHandlers(
		ghttp.VerifyRequest(http.MethodPost, gomega.HaveSuffix("/containers/%s/start", containerID)),
		noContentStatusResponse,
	)
}

// PullImageHandler expects a pull of image:tag and streams messages as the
// daemon's JSON progress lines.
func PullImageHandler(image, tag string, messages ...string) http.HandlerFunc {
	return ghttp.CombineHandlers(
		ghttp.VerifyRequest(http.MethodPost, gomega.HaveSuffix("/images/create")),
		verifyImageQuery("fromImage", image, tag),
		ghttp.RespondWith(http.StatusOK, strings.Join(messages, "\n")),
	)
}

// TagImageHandler expects source to be tagged as repo:tag.
func TagImageHandler(source, repo, tag string) http.HandlerFunc {
	return ghttp.CombineHandlers(
		ghttp.VerifyRequest(http.MethodPost, gomega.HaveSuffix("/images/%s/tag", source)),
		verifyImageQuery("repo", repo, tag),
		ghttp.RespondWith(http.StatusCreated, nil),
	)
}

// verifyImageQuery checks the repository parameter in familiar or fully
// qualified form, and the tag.
func verifyImageQuery(key, repo, tag string) http.HandlerFunc {
	return func(_ http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		gomega.Expect(query.Get(key)).To(gomega.HaveSuffix(repo))
		gomega.Expect(query.Get("tag")).To(gomega.Equal(tag))
	}
}
