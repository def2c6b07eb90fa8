package handlers

import "github.com/gin-gonic/gin"

// Task routes.

func (h *Handler) CreateTask() gin.HandlerFunc   { return h.Wrap(h.svc.CreateTask) }
func (h *Handler) GetTask() gin.HandlerFunc      { return h.Wrap(h.svc.GetTask) }
func (h *Handler) FindTask() gin.HandlerFunc     { return h.Wrap(h.svc.FindTask) }
func (h *Handler) PatchTask() gin.HandlerFunc    { return h.Wrap(h.svc.PatchTask) }
func (h *Handler) DeleteTask() gin.HandlerFunc   { return h.Wrap(h.svc.DeleteTask) }
func (h *Handler) PostTaskData() gin.HandlerFunc { return h.Wrap(h.svc.PostTaskData) }
func (h *Handler) GetTaskData() gin.HandlerFunc  { return h.Wrap(h.svc.GetTaskData) }

// Task type administration.

func (h *Handler) GetTaskTypes() gin.HandlerFunc       { return h.Wrap(h.svc.GetTaskTypes) }
func (h *Handler) SetTaskTypeEnabled() gin.HandlerFunc { return h.Wrap(h.svc.SetTaskTypeEnabled) }
func (h *Handler) RemoveTaskType() gin.HandlerFunc     { return h.Wrap(h.svc.RemoveTaskType) }
