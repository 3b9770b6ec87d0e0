package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/offline-agent/internal/cache"
	"github.com/any-hub/offline-agent/internal/host"
	"github.com/any-hub/offline-agent/internal/version"
)

// GenerationSource 提供代际快照，host.Runtime 即是其实现。
type GenerationSource interface {
	Snapshot() []host.GenerationInfo
}

type statusPayload struct {
	Version     string                `json:"version"`
	Active      string                `json:"active_version,omitempty"`
	Generations []host.GenerationInfo `json:"generations"`
	Caches      []string              `json:"caches"`
}

// RegisterStatusRoutes 暴露 /-/status 诊断接口，返回代际状态与现存缓存名称。
func RegisterStatusRoutes(app *fiber.App, generations GenerationSource, storage cache.Storage) {
	if app == nil || generations == nil || storage == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		names, err := storage.Names(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_list_failed"})
		}
		return c.JSON(buildStatus(generations.Snapshot(), names))
	})
}

func buildStatus(generations []host.GenerationInfo, caches []string) statusPayload {
	payload := statusPayload{
		Version:     version.Full(),
		Generations: generations,
		Caches:      caches,
	}
	if payload.Generations == nil {
		payload.Generations = []host.GenerationInfo{}
	}
	if payload.Caches == nil {
		payload.Caches = []string{}
	}
	for _, gen := range generations {
		if gen.State == host.StateActivated {
			payload.Active = gen.Version
		}
	}
	return payload
}
