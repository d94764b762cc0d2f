package coordinator

import (
	"context"
	"errors"

	"github.com/gammazero/workerpool"
	"github.com/sirupsen/logrus"

	"meeting-backend/internal/event"
	"meeting-backend/internal/model"
	"meeting-backend/internal/recording"
	"meeting-backend/internal/scheduler"
)

// Broadcaster 방 전체에 프레임 전달
type Broadcaster interface {
	Broadcast(roomID string, data []byte, exceptConn string)
}

// MergeRunner 방 액터 밖에서 병합을 실행하고 진행 상황을 방에 알린다
type MergeRunner struct {
	rec   *recording.Service
	out   Broadcaster
	sched *scheduler.Scheduler
	pool  *workerpool.WorkerPool
	log   *logrus.Entry
}

func NewMergeRunner(rec *recording.Service, out Broadcaster, sched *scheduler.Scheduler, workers int, log *logrus.Entry) *MergeRunner {
	if workers <= 0 {
		workers = 1
	}
	return &MergeRunner{
		rec:   rec,
		out:   out,
		sched: sched,
		pool:  workerpool.New(workers),
		log:   log,
	}
}

// Enqueue 예약된 병합을 워커 풀에서 실행. 그 사이 다른 병합이 방을 처리했으면 건너뛴다.
func (r *MergeRunner) Enqueue(roomID string) {
	log := r.log.WithField("roomId", roomID)
	log.WithField("waiting", r.pool.WaitingQueueSize()).Debug("merge queued")

	r.pool.Submit(func() {
		if st := r.rec.Tracker().Get(roomID).State; st != model.RecordingStopping {
			log.WithField("state", st).Debug("scheduled merge skipped")
			return
		}
		_, _ = r.Run(context.Background(), roomID)
	})
}

// Run 호출한 고루틴에서 병합. 잠금을 잡은 뒤에만 merge-started 를 보내고,
// 이미 진행 중인 병합(ErrMergeInProgress)은 방에 알리지 않고 그대로 반환한다.
func (r *MergeRunner) Run(ctx context.Context, roomID string) (*recording.MergeResult, error) {
	started := false
	res, err := r.rec.Merge(ctx, roomID, func() {
		started = true
		r.sched.Cancel(mergeKey(roomID))
		r.out.Broadcast(roomID, event.MustEncode(event.MergeStarted, nil), "")
	})
	if err != nil {
		if started {
			r.out.Broadcast(roomID, event.MustEncode(event.MergeFailed, event.MergeFailedPayload{
				Error: err.Error(),
			}), "")
		} else if !errors.Is(err, recording.ErrMergeInProgress) {
			r.log.WithError(err).WithField("roomId", roomID).Debug("merge not started")
		}
		return nil, err
	}

	r.out.Broadcast(roomID, event.MustEncode(event.MergeSuccess, event.MergeSuccessPayload{
		FinalPath: res.FinalPath,
	}), "")
	return res, nil
}

// Stop 대기 중인 병합이 끝날 때까지 기다린다
func (r *MergeRunner) Stop() {
	r.pool.StopWait()
}
