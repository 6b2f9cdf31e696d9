package execute_test

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/deployhook/internal/execute"
	"github.com/mattjoyce/deployhook/internal/execute/mocks"
)

func TestHandoffRecordsBeforeDispatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	records := mocks.NewMockRecorder(ctrl)
	engine := mocks.NewMockEngine(ctrl)
	ctx := context.Background()
	req := execute.RunProcedure{Procedure: "proc-1"}
	user := execute.WebhookUser()
	body := []byte(`{"ref":"refs/heads/main"}`)
	update := &execute.Update{ID: "upd-1", Operation: "RunProcedure"}

	gomock.InOrder(
		records.EXPECT().Create(ctx, req, user, body).Return(update, nil),
		engine.EXPECT().Dispatch(ctx, req, user, update).Return(nil),
	)

	got, err := execute.NewHandoff(records, engine).Execute(ctx, req, user, body)
	require.NoError(t, err)
	assert.Same(t, update, got)
}

func TestHandoffRecordFailureSkipsEngine(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	records := mocks.NewMockRecorder(ctrl)
	engine := mocks.NewMockEngine(ctrl)
	dbErr := errors.New("disk full")

	records.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, dbErr)
	engine.EXPECT().Dispatch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	_, err := execute.NewHandoff(records, engine).Execute(context.Background(),
		execute.DeployStack{Stack: "stk-1"}, execute.WebhookUser(), nil)

	var engErr *execute.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, "record", engErr.Stage)
	assert.Equal(t, "DeployStack", engErr.Operation)
	assert.ErrorIs(t, err, dbErr)
}

func TestHandoffPropagatesDispatchError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	records := mocks.NewMockRecorder(ctrl)
	engine := mocks.NewMockEngine(ctrl)
	update := &execute.Update{ID: "upd-2"}
	engineDown := errors.New("engine unavailable")

	gomock.InOrder(
		records.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(update, nil),
		engine.EXPECT().Dispatch(gomock.Any(), gomock.Any(), gomock.Any(), update).Return(engineDown).Times(1),
		records.EXPECT().Finish(gomock.Any(), "upd-2", execute.UpdateStatusFailed).Return(nil),
	)

	got, err := execute.NewHandoff(records, engine).Execute(context.Background(),
		execute.DeployStackIfChanged{Stack: "stk-1"}, execute.WebhookUser(), nil)

	assert.Same(t, update, got)
	var engErr *execute.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, "dispatch", engErr.Stage)
	assert.ErrorIs(t, err, engineDown)
	assert.Contains(t, err.Error(), "dispatch DeployStackIfChanged: engine unavailable")
	assert.Equal(t, execute.UpdateStatusFailed, got.Status)
}

func TestHandoffDispatchFailureKeepsFinishError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	records := mocks.NewMockRecorder(ctrl)
	engine := mocks.NewMockEngine(ctrl)
	update := &execute.Update{ID: "upd-3", Status: execute.UpdateStatusInProgress}
	engineDown := errors.New("engine unavailable")
	dbErr := errors.New("database is locked")

	records.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(update, nil)
	engine.EXPECT().Dispatch(gomock.Any(), gomock.Any(), gomock.Any(), update).Return(engineDown)
	records.EXPECT().Finish(gomock.Any(), "upd-3", execute.UpdateStatusFailed).Return(dbErr)

	got, err := execute.NewHandoff(records, engine).Execute(context.Background(),
		execute.RunProcedure{Procedure: "proc-1"}, execute.WebhookUser(), nil)

	var engErr *execute.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, "dispatch", engErr.Stage)
	assert.ErrorIs(t, err, engineDown)
	assert.ErrorIs(t, err, dbErr)
	assert.Equal(t, execute.UpdateStatusInProgress, got.Status)
}
