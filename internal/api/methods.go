package api

import (
	"fmt"
	"runtime"

	"github.com/brayns/brayns_server/internal/model"
	"github.com/brayns/brayns_server/internal/rpc"
	"github.com/brayns/brayns_server/internal/scene"
	"github.com/brayns/brayns_server/internal/upload"
	"github.com/goccy/go-json"
)

const (
	MethodUploadModel = "upload-model"
	MethodChunk       = "chunk"
	MethodCancel      = "cancel"
	MethodGetLoaders  = "get-loaders"
	MethodGetVersion  = "get-version"
	MethodGetScene    = "get-scene"
	MethodGetModels   = "get-models"
	MethodGetModel    = "get-model"
	MethodRemoveModel = "remove-model"
	MethodUpdateModel = "update-model"
	MethodGetMethods  = "get-methods"

	// MethodProgress is the notification sent while an upload-model request runs.
	MethodProgress = "progress"
)

// Progress is the payload of a progress notification. ID is the id of the upload-model request.
type Progress struct {
	ID        json.RawMessage `json:"id"`
	Operation string          `json:"operation"`
	Amount    float64         `json:"amount"`
}

type VersionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
}

type SceneInfo struct {
	Bounds model.Box           `json:"bounds"`
	Models []*model.Descriptor `json:"models"`
}

type idParams struct {
	ID string `json:"id"`
}

type cancelParams struct {
	ID json.RawMessage `json:"id"`
}

type removeParams struct {
	IDs []string `json:"ids"`
}

func (s *Service) registerMethods() {
	s.router.Handle(MethodUploadModel, s.uploadModel)
	s.router.Handle(MethodChunk, s.chunk)
	s.router.Handle(MethodCancel, s.cancelRequest)
	s.router.Handle(MethodGetLoaders, s.getLoaders)
	s.router.Handle(MethodGetVersion, s.getVersion)
	s.router.Handle(MethodGetScene, s.getScene)
	s.router.Handle(MethodGetModels, s.getModels)
	s.router.Handle(MethodGetModel, s.getModel)
	s.router.Handle(MethodRemoveModel, s.removeModel)
	s.router.Handle(MethodUpdateModel, s.updateModel)
	s.router.Handle(MethodGetMethods, s.getMethods)
}

func (s *Service) uploadModel(call *rpc.Call) {
	var params upload.Params
	if err := call.Bind(&params); err != nil {
		call.Fail(err)
		return
	}

	if !call.Request.IsNotification() {
		if _, busy := s.runningFor(call.ClientID, call.Request.Key()); busy {
			call.Fail(rpc.NewError(rpc.CodeInvalidRequest, fmt.Sprintf("request %s is still running", call.Request.Key())))
			return
		}
	}

	task, err := s.manager.Declare(call.ClientID, params, s.progressNotifier(call))
	if err != nil {
		call.Fail(ToRPCError(err))
		return
	}
	s.startUpload(call, task)
}

func (s *Service) progressNotifier(call *rpc.Call) upload.ProgressFunc {
	if call.Request.IsNotification() {
		return nil
	}
	id := call.Request.ID
	return func(operation string, amount float64) {
		call.Notify(MethodProgress, Progress{ID: id, Operation: operation, Amount: amount})
	}
}

// chunk re-targets the client's next binary frames to an already declared upload.
func (s *Service) chunk(call *rpc.Call) {
	var params idParams
	if err := call.Bind(&params); err != nil {
		call.Fail(err)
		return
	}
	if params.ID == "" {
		call.Fail(ToRPCError(upload.ErrMissingChunksID))
		return
	}

	if err := s.manager.SetNextChunkID(call.ClientID, params.ID); err != nil {
		call.Fail(ToRPCError(err))
		return
	}
	call.Reply(nil)
}

// cancelRequest cancels a running upload-model request of the same client, by request id.
func (s *Service) cancelRequest(call *rpc.Call) {
	var params cancelParams
	if err := call.Bind(&params); err != nil {
		call.Fail(err)
		return
	}
	if len(params.ID) == 0 {
		call.Fail(rpc.NewError(rpc.CodeInvalidParams, "id is required"))
		return
	}

	run, ok := s.runningFor(call.ClientID, string(params.ID))
	if !ok {
		call.Fail(rpc.NewError(rpc.CodeInvalidParams, fmt.Sprintf("no running request with id %s", params.ID)))
		return
	}
	run.task.Cancel()
	call.Reply(nil)
}

func (s *Service) getLoaders(call *rpc.Call) {
	call.Reply(s.registry.Infos())
}

func (s *Service) getVersion(call *rpc.Call) {
	call.Reply(VersionInfo{Version: s.version, GoVersion: runtime.Version()})
}

func (s *Service) getMethods(call *rpc.Call) {
	call.Reply(s.router.Methods())
}

func (s *Service) getScene(call *rpc.Call) {
	call.Reply(SceneInfo{Bounds: s.scene.Bounds(), Models: s.scene.List()})
}

func (s *Service) getModels(call *rpc.Call) {
	call.Reply(s.scene.List())
}

func (s *Service) getModel(call *rpc.Call) {
	var params idParams
	if err := call.Bind(&params); err != nil {
		call.Fail(err)
		return
	}

	descriptor, err := s.scene.Get(params.ID)
	if err != nil {
		call.Fail(ToRPCError(err))
		return
	}
	call.Reply(descriptor)
}

func (s *Service) removeModel(call *rpc.Call) {
	var params removeParams
	if err := call.Bind(&params); err != nil {
		call.Fail(err)
		return
	}
	if len(params.IDs) == 0 {
		call.Fail(rpc.NewError(rpc.CodeInvalidParams, "ids is required"))
		return
	}

	if err := s.scene.Remove(params.IDs...); err != nil {
		call.Fail(ToRPCError(err))
		return
	}
	call.Reply(nil)
}

func (s *Service) updateModel(call *rpc.Call) {
	var params scene.Update
	if err := call.Bind(&params); err != nil {
		call.Fail(err)
		return
	}

	descriptor, err := s.scene.Update(params)
	if err != nil {
		call.Fail(ToRPCError(err))
		return
	}
	call.Reply(descriptor)
}
