package handlers

import "github.com/gin-gonic/gin"

func (h *Handler) CreateAssignment() gin.HandlerFunc   { return h.Wrap(h.svc.CreateAssignment) }
func (h *Handler) GetAssignment() gin.HandlerFunc      { return h.Wrap(h.svc.GetAssignment) }
func (h *Handler) FindAssignment() gin.HandlerFunc     { return h.Wrap(h.svc.FindAssignment) }
func (h *Handler) PatchAssignment() gin.HandlerFunc    { return h.Wrap(h.svc.PatchAssignment) }
func (h *Handler) DeleteAssignment() gin.HandlerFunc   { return h.Wrap(h.svc.DeleteAssignment) }
func (h *Handler) PostAssignmentData() gin.HandlerFunc { return h.Wrap(h.svc.PostAssignmentData) }
func (h *Handler) GetAssignmentData() gin.HandlerFunc  { return h.Wrap(h.svc.GetAssignmentData) }
