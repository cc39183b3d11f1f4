package server

import (
	"net/http"

	"github.com/mwalczyk/priceradar/internal/substitute"
)

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var in substitute.GroupInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}

	groupID, err := s.substitutes.CreateGroup(r.Context(), userID(r), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]any{
		"group_id": groupID,
		"name":     in.Name,
	})
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.substitutes.ListGroups(r.Context(), queryInt(q.Get("limit")), queryInt(q.Get("offset")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"groups": list.Groups,
		"total":  list.Total,
	})
}

func (s *Server) handleSubstitutesForProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	subs, err := s.substitutes.SubstitutesFor(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"product_id":      subs.ProductID,
		"has_substitutes": subs.HasSubstitutes,
		"group":           subs.Group,
		"substitutes":     subs.Substitutes,
	})
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.substitutes.GetGroup(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"group": group})
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")
	if err := s.substitutes.DeleteGroup(r.Context(), groupID); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"deleted":  true,
		"group_id": groupID,
	})
}

func (s *Server) handleBulkGroups(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Groups []substitute.GroupInput `json:"groups"`
	}
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}

	result, err := s.substitutes.BulkCreateGroups(r.Context(), userID(r), in.Groups)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"results": result.Results,
		"summary": result.Summary,
	})
}
