package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/pipeline"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/store"
)

// defaultSuggestions is the result size of a suggestion query without max.
const defaultSuggestions = 10

// AddOccurrencesRequest is the body of POST .../occurrences. Either
// Occurrences or Snippet with Start and End is set.
type AddOccurrencesRequest struct {
	Target      string                 `json:"target" binding:"required"`
	Occurrences []model.OccurrenceInfo `json:"occurrences"`
	Snippet     string                 `json:"snippet"`
	Start       *int                   `json:"start"`
	End         *int                   `json:"end"`
}

func documentKey(c *gin.Context) model.DocumentKey {
	return model.DocumentKey{Repository: c.Param("repo"), DocumentID: c.Param("id")}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, pferrors.ErrValidation)...)
}

// inSession runs fn in a session opened as the request's principal and
// commits when fn succeeds.
func (s *Server) inSession(ctx context.Context, principal store.Principal, fn func(store.Session) error) error {
	sess, err := s.store.OpenSession(ctx, principal)
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		_ = sess.Rollback(ctx)
		return err
	}
	return sess.Commit(ctx)
}

func (s *Server) analyze(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxTextBytes+1))
	if err != nil {
		s.fail(c, invalid("reading body: %v", err))
		return
	}
	if len(body) > maxTextBytes {
		s.fail(c, invalid("text exceeds %d bytes", maxTextBytes))
		return
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		s.fail(c, invalid("empty text"))
		return
	}

	groups, err := s.svc.Analyze(c.Request.Context(), text)
	if err != nil {
		s.fail(c, err)
		return
	}
	if groups == nil {
		groups = []model.OccurrenceGroup{}
	}
	c.JSON(http.StatusOK, groups)
}

func (s *Server) launchAnalysis(c *gin.Context) {
	ctx := c.Request.Context()
	key := documentKey(c)
	p := principalOf(c)

	synchronous, _ := strconv.ParseBool(c.Query("sync"))
	if !synchronous {
		if err := s.svc.LaunchAnalysis(ctx, p, key); err != nil {
			s.fail(c, err)
			return
		}
		status, ok, err := s.svc.GetProgressStatus(ctx, key)
		if err != nil || !ok {
			// Already picked up and finished, or the status is unreadable.
			c.JSON(http.StatusAccepted, gin.H{"document": key})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"document": key, "status": status})
		return
	}

	var result *pipeline.AnalysisResult
	err := s.inSession(ctx, p, func(sess store.Session) error {
		doc, err := sess.GetDocument(ctx, key)
		if err != nil {
			return err
		}
		result, err = s.svc.LaunchSynchronousAnalysis(ctx, sess, doc)
		return err
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) getStatus(c *gin.Context) {
	key := documentKey(c)
	status, ok, err := s.svc.GetProgressStatus(c.Request.Context(), key)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !ok {
		s.fail(c, fmt.Errorf("no analysis in progress for %s: %w", key, pferrors.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) clearStatus(c *gin.Context) {
	s.svc.ClearProgressStatus(documentKey(c))
	c.Status(http.StatusNoContent)
}

func (s *Server) addOccurrences(c *gin.Context) {
	var req AddOccurrencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, invalid("decoding request: %v", err))
		return
	}
	single := req.Snippet != "" || req.Start != nil || req.End != nil
	switch {
	case single && len(req.Occurrences) > 0:
		s.fail(c, invalid("set either occurrences or snippet, not both"))
		return
	case single && (req.Start == nil || req.End == nil):
		s.fail(c, invalid("snippet needs start and end"))
		return
	case !single && len(req.Occurrences) == 0:
		s.fail(c, invalid("no occurrences"))
		return
	}

	ctx := c.Request.Context()
	key := documentKey(c)
	var relation *model.OccurrenceRelation
	err := s.inSession(ctx, principalOf(c), func(sess store.Session) error {
		if _, err := sess.GetDocument(ctx, key); err != nil {
			return err
		}
		var err error
		if single {
			relation, err = s.svc.AddOccurrence(ctx, sess, key.DocumentID, req.Target, req.Snippet, *req.Start, *req.End)
		} else {
			relation, err = s.svc.AddOccurrences(ctx, sess, key.DocumentID, req.Target, req.Occurrences)
		}
		return err
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, relation)
}

func (s *Server) removeOccurrences(c *gin.Context) {
	force, err := parseOptionalBool(c.Query("force"))
	if err != nil {
		s.fail(c, invalid("force: %v", err))
		return
	}

	ctx := c.Request.Context()
	key := documentKey(c)
	err = s.inSession(ctx, principalOf(c), func(sess store.Session) error {
		if _, err := sess.GetDocument(ctx, key); err != nil {
			return err
		}
		return s.svc.RemoveOccurrences(ctx, sess, key.DocumentID, c.Param("entity"), force)
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) suggest(c *gin.Context) {
	keywords := strings.TrimSpace(c.Query("q"))
	if keywords == "" {
		s.fail(c, invalid("q is required"))
		return
	}
	max := defaultSuggestions
	if raw := c.Query("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.fail(c, invalid("max must be a positive integer"))
			return
		}
		max = n
	}

	ctx := c.Request.Context()
	var suggestions []model.EntitySuggestion
	err := s.inSession(ctx, principalOf(c), func(sess store.Session) error {
		var err error
		suggestions, err = s.svc.SuggestLocalEntity(ctx, sess, keywords, c.Query("type"), max)
		return err
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	if suggestions == nil {
		suggestions = []model.EntitySuggestion{}
	}
	c.JSON(http.StatusOK, suggestions)
}

func parseOptionalBool(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.New("not a boolean")
	}
	return b, nil
}
