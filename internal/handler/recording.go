package handler

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"meeting-backend/internal/auth"
	"meeting-backend/internal/coordinator"
	"meeting-backend/internal/recording"
)

// RecordingHandler 녹화 청크 업로드/병합/다운로드 핸들러
type RecordingHandler struct {
	svc    *recording.Service
	runner *coordinator.MergeRunner
	log    *logrus.Entry
}

// NewRecordingHandler RecordingHandler 생성
func NewRecordingHandler(svc *recording.Service, runner *coordinator.MergeRunner, log *logrus.Entry) *RecordingHandler {
	return &RecordingHandler{svc: svc, runner: runner, log: log}
}

// UploadChunkRequest 청크 업로드 요청
type UploadChunkRequest struct {
	RoomID          string `json:"roomId"`
	UserID          string `json:"userId"`
	SequenceKey     string `json:"sequenceKey"`
	ChunkDataBase64 string `json:"chunkDataBase64"`
}

// UploadChunk 녹화 청크 저장 (본인 청크만)
func (h *RecordingHandler) UploadChunk(c *fiber.Ctx) error {
	var req UploadChunkRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.UserID != auth.UserID(c) {
		return respondError(c, h.log, fmt.Errorf("%w: chunks can only be uploaded for yourself", coordinator.ErrForbidden))
	}

	payload, err := recording.DecodePayload(req.ChunkDataBase64)
	if err != nil {
		return respondError(c, h.log, err)
	}

	stored, err := h.svc.UploadChunk(req.RoomID, req.UserID, req.SequenceKey, payload)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(stored)
}

// Status 녹화 상태 + 참가자별 청크 수
func (h *RecordingHandler) Status(c *fiber.Ctx) error {
	st, err := h.svc.Status(c.UserContext(), c.Params("roomId"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(st)
}

// Merge 동기 병합 실행
func (h *RecordingHandler) Merge(c *fiber.Ctx) error {
	roomID := c.Params("roomId")
	if err := recording.ValidateID("roomId", roomID); err != nil {
		return respondError(c, h.log, err)
	}

	res, err := h.runner.Run(c.UserContext(), roomID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(res)
}

// Download 최종 녹화 파일 전송 (Range 지원)
func (h *RecordingHandler) Download(c *fiber.Ctx) error {
	artifact, err := h.svc.Final(c.Params("roomId"))
	if err != nil {
		return respondError(c, h.log, err)
	}

	start, end := int64(0), artifact.Size-1
	status := fiber.StatusOK
	if c.Get(fiber.HeaderRange) != "" && artifact.Size > 0 {
		rng, err := c.Range(int(artifact.Size))
		if err != nil || rng.Type != "bytes" || len(rng.Ranges) == 0 {
			if err != nil && !errors.Is(err, fiber.ErrRangeUnsatisfiable) && !errors.Is(err, fiber.ErrRangeMalformed) {
				return respondError(c, h.log, err)
			}
			c.Set(fiber.HeaderContentRange, "bytes */"+strconv.FormatInt(artifact.Size, 10))
			return c.Status(fiber.StatusRequestedRangeNotSatisfiable).JSON(fiber.Map{
				"error": "requested range not satisfiable",
				"code":  "RANGE_NOT_SATISFIABLE",
			})
		}
		start, end = int64(rng.Ranges[0].Start), int64(rng.Ranges[0].End)
		status = fiber.StatusPartialContent
		c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes %d-%d/%d", start, end, artifact.Size))
	}

	c.Set(fiber.HeaderContentType, artifact.ContentType)
	c.Set(fiber.HeaderAcceptRanges, "bytes")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s-recording.%s"`, artifact.RoomID, h.svc.Layout().Ext))

	if artifact.Size == 0 {
		return c.Status(status).Send(nil)
	}

	body, err := h.svc.OpenRange(artifact, start, end)
	if err != nil {
		return respondError(c, h.log, err)
	}
	c.Status(status)
	c.Context().SetBodyStream(body, int(end-start+1))
	return nil
}

// Delete 방 녹화 전체 삭제 (병합 중이면 409)
func (h *RecordingHandler) Delete(c *fiber.Ctx) error {
	if err := h.svc.DeleteRoom(c.UserContext(), c.Params("roomId")); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(fiber.Map{"message": "recordings deleted"})
}
