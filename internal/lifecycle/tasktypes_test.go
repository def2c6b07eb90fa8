package lifecycle

import (
	"testing"

	"crowdtask-api/internal/apperror"
	"crowdtask-api/internal/tasktype"
	"crowdtask-api/internal/tasktype/guessnumber"

	"github.com/stretchr/testify/require"
)

func TestTaskTypes(t *testing.T) {
	h := newHarness(t, guessnumber.New(), &plainType{id: "plain"})

	res, err := call(h.svc.GetTaskTypes, nil, "", "", "")
	require.NoError(t, err)
	var metas []tasktype.Meta
	decode(t, res, &metas)
	require.Len(t, metas, 2)
	require.Equal(t, guessnumber.ID, metas[0].ID)
	require.True(t, metas[1].Enabled)

	_, err = call(h.svc.SetTaskTypeEnabled, publisher, "plain", "", `{"enabled":false}`)
	requireKind(t, err, apperror.KindPermission)
	_, err = call(h.svc.SetTaskTypeEnabled, siteAdmin, "plain", "", `{}`)
	requireKind(t, err, apperror.KindSchema)
	_, err = call(h.svc.SetTaskTypeEnabled, siteAdmin, "plain", "", `{"enabled":false}`)
	require.NoError(t, err)
	_, ok := h.registry.Enabled("plain")
	require.False(t, ok)

	// disabled types are not offered to new tasks
	_, err = call(h.svc.CreateTask, publisher, "", "", `{"name":"t","description":"d","excerption":"e","type":"plain"}`)
	requireKind(t, err, apperror.KindInvalid)
	require.Equal(t, []string{guessnumber.ID}, apperror.As(err).Data)

	_, err = call(h.svc.SetTaskTypeEnabled, siteAdmin, "plain", "", `{"enabled":true}`)
	require.NoError(t, err)

	_, err = call(h.svc.RemoveTaskType, taskAdmin, "plain", "", "")
	requireKind(t, err, apperror.KindPermission)
	_, err = call(h.svc.RemoveTaskType, siteAdmin, "plain", "", "")
	require.NoError(t, err)
	_, err = call(h.svc.RemoveTaskType, siteAdmin, "plain", "", "")
	requireKind(t, err, apperror.KindNotFound)
	require.Len(t, h.registry.List(), 1)
}
