package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meetsmatch/roommates/internal/database"
	"github.com/meetsmatch/roommates/internal/errors"
	"github.com/meetsmatch/roommates/internal/interfaces"
	"github.com/meetsmatch/roommates/internal/middleware"
)

type handlers struct {
	matching interfaces.MatchingServiceInterface
}

type matchListResponse struct {
	Matches []database.Match `json:"matches"`
	Count   int              `json:"count"`
}

type explanationResponse struct {
	MatchID     string `json:"match_id"`
	Score       int    `json:"score"`
	Explanation string `json:"explanation"`
}

type compatibilityResponse struct {
	ProfileA  string             `json:"profile_a"`
	ProfileB  string             `json:"profile_b"`
	Score     int                `json:"score"`
	Breakdown database.Breakdown `json:"breakdown"`
}

// actor returns the authenticated profile id. The auth middleware guarantees one.
func actor(c *gin.Context) string {
	id, _ := middleware.ActorFromContext(c)
	return id
}

// ownProfile returns the :id path profile when it is the caller's own.
func ownProfile(c *gin.Context) (string, bool) {
	profileID := c.Param("id")
	if profileID != actor(c) {
		_ = c.Error(errors.NewAuthorizationError("profile does not belong to the caller").
			WithMetadata("profile_id", profileID))
		return "", false
	}
	return profileID, true
}

func (h *handlers) generateMatches(c *gin.Context) {
	profileID, ok := ownProfile(c)
	if !ok {
		return
	}
	matches, err := h.matching.GenerateMatches(c.Request.Context(), profileID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, matchListResponse{Matches: matches, Count: len(matches)})
}

func (h *handlers) listMatches(c *gin.Context) {
	profileID, ok := ownProfile(c)
	if !ok {
		return
	}
	status := database.MatchStatus(c.Query("status"))
	matches, err := h.matching.ListMatches(c.Request.Context(), profileID, status)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, matchListResponse{Matches: matches, Count: len(matches)})
}

func (h *handlers) listMutualMatches(c *gin.Context) {
	profileID, ok := ownProfile(c)
	if !ok {
		return
	}
	matches, err := h.matching.ListMutualMatches(c.Request.Context(), profileID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, matchListResponse{Matches: matches, Count: len(matches)})
}

func (h *handlers) matchStats(c *gin.Context) {
	profileID, ok := ownProfile(c)
	if !ok {
		return
	}
	stats, err := h.matching.MatchStats(c.Request.Context(), profileID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handlers) getMatch(c *gin.Context) {
	match, err := h.matching.GetMatch(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, match)
}

func (h *handlers) like(c *gin.Context) {
	result, err := h.matching.Like(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handlers) decline(c *gin.Context) {
	result, err := h.matching.Decline(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handlers) retryConversation(c *gin.Context) {
	ctx := c.Request.Context()
	matchID := c.Param("id")
	if _, err := h.matching.GetMatch(ctx, actor(c), matchID); err != nil {
		_ = c.Error(err)
		return
	}
	result, err := h.matching.RetryConversation(ctx, matchID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handlers) explain(c *gin.Context) {
	ctx := c.Request.Context()
	match, err := h.matching.GetMatch(ctx, actor(c), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	text, err := h.matching.Explain(ctx, actor(c), match.ID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, explanationResponse{MatchID: match.ID, Score: match.Score, Explanation: text})
}

func (h *handlers) compatibility(c *gin.Context) {
	a, b := c.Query("a"), c.Query("b")
	if a == "" || b == "" {
		_ = c.Error(errors.NewValidationError("a,b", "both profile ids are required"))
		return
	}
	if caller := actor(c); caller != a && caller != b {
		_ = c.Error(errors.NewAuthorizationError("compatibility is only available for the caller's own profile"))
		return
	}

	scored, err := h.matching.ScorePair(c.Request.Context(), a, b)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, compatibilityResponse{
		ProfileA:  scored.SeekerProfileID,
		ProfileB:  scored.CandidateProfileID,
		Score:     scored.Score,
		Breakdown: scored.Breakdown,
	})
}
