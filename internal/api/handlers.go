package api

import (
	"crypto/subtle"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"newsdesk/internal/newsletter"
	"newsdesk/internal/pipeline"

	"github.com/gin-gonic/gin"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"podcast":   s.cfg.Podcasts != nil,
		"analytics": s.cfg.Analytics != nil,
	})
}

// categoriesParam reads ?categories=a,b (repeatable), falling back to the
// configured defaults.
func (s *Server) categoriesParam(c *gin.Context) []string {
	var out []string
	for _, v := range c.QueryArray("categories") {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	if len(out) == 0 {
		return s.cfg.Defaults
	}
	return out
}

func (s *Server) getNewsletter(c *gin.Context) {
	res, err := s.cfg.Newsletters.Newsletter(c.Request.Context(), s.categoriesParam(c), pipeline.Options{})
	if err != nil {
		abort(c, err)
		return
	}
	cacheHeaders(c, res)

	if c.Query("format") == "markdown" {
		d := newsletter.BuildData(res.Newsletter, s.cfg.Title, s.cfg.Preface, s.cfg.Postscript, time.Now())
		md, err := newsletter.Render(d)
		if err != nil {
			abort(c, fmt.Errorf("render newsletter: %w", err))
			return
		}
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(md))
		return
	}
	success(c, http.StatusOK, res.Newsletter)
}

func cacheHeaders(c *gin.Context, res pipeline.Result) {
	if res.Generated() {
		c.Header("X-Cache", "MISS")
		return
	}
	c.Header("X-Cache", "HIT")
	c.Header("X-Cache-Source", string(res.Source))
}

func (s *Server) adminRefresh(c *gin.Context) {
	if s.cfg.AdminSecret == "" {
		abort(c, errAdminDisabled)
		return
	}
	got := c.GetHeader("X-Admin-Secret")
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AdminSecret)) != 1 {
		abort(c, errUnauthorized)
		return
	}
	allowed, wait, err := s.cfg.Cooldown.Acquire(c.Request.Context(), "admin-refresh", s.cfg.RefreshCooldown)
	if err != nil {
		abort(c, fmt.Errorf("acquire refresh cooldown: %w", err))
		return
	}
	if !allowed {
		secs := int(math.Ceil(wait.Seconds()))
		c.Header("Retry-After", strconv.Itoa(secs))
		abort(c, newError(http.StatusTooManyRequests, "cooldown", fmt.Sprintf("refresh available again in %ds", secs)))
		return
	}
	res, err := s.cfg.Newsletters.Refresh(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{
		"id":          res.Newsletter.ID,
		"categories":  res.Newsletter.Categories,
		"generatedAt": res.Newsletter.GeneratedAt,
		"degraded":    res.Newsletter.Degraded,
	})
}

type podcastRequest struct {
	Categories []string `json:"categories"`
}

func (s *Server) startPodcast(c *gin.Context) {
	if s.cfg.Podcasts == nil {
		abort(c, errNoPodcast)
		return
	}
	var req podcastRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, errBadRequestBody)
			return
		}
	}
	cats := req.Categories
	if len(cats) == 0 {
		cats = s.categoriesParam(c)
	}
	job, err := s.cfg.Podcasts.Start(c.Request.Context(), cats)
	if err != nil {
		abort(c, err)
		return
	}
	status := http.StatusAccepted
	if job.Cached {
		status = http.StatusOK
	}
	success(c, status, job)
}

func (s *Server) podcastStatus(c *gin.Context) {
	if s.cfg.Podcasts == nil {
		abort(c, errNoPodcast)
		return
	}
	job, err := s.cfg.Podcasts.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	success(c, http.StatusOK, job)
}

func (s *Server) cancelPodcast(c *gin.Context) {
	if s.cfg.Podcasts == nil {
		abort(c, errNoPodcast)
		return
	}
	job, err := s.cfg.Podcasts.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	success(c, http.StatusAccepted, job)
}

// podcastAudio serves audio for exactly the requested categories, or for a
// finished job when ?job= is given.
func (s *Server) podcastAudio(c *gin.Context) {
	if s.cfg.Podcasts == nil {
		abort(c, errNoPodcast)
		return
	}
	var (
		path  string
		found bool
	)
	if id := c.Query("job"); id != "" {
		path, found = s.cfg.Podcasts.AudioPath(id)
	} else {
		var err error
		path, found, err = s.cfg.Podcasts.Lookup(s.categoriesParam(c))
		if err != nil {
			abort(c, err)
			return
		}
	}
	if !found {
		abort(c, errAudioNotFound)
		return
	}
	c.Header("Content-Type", "audio/mpeg")
	c.File(path)
}

func daysParam(c *gin.Context) int {
	d, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || d <= 0 {
		return 7
	}
	return d
}

func (s *Server) sentiment(c *gin.Context) {
	if s.cfg.Analytics == nil {
		abort(c, errNoDatabase)
		return
	}
	cat := strings.ToLower(strings.TrimSpace(c.Query("category")))
	if cat == "" {
		abort(c, newError(http.StatusBadRequest, "invalid_categories", "category is required"))
		return
	}
	points, err := s.cfg.Analytics.SentimentHistory(c.Request.Context(), cat, daysParam(c))
	if err != nil {
		abort(c, fmt.Errorf("sentiment history: %w", err))
		return
	}
	success(c, http.StatusOK, points)
}

func (s *Server) selections(c *gin.Context) {
	if s.cfg.Analytics == nil {
		abort(c, errNoDatabase)
		return
	}
	rows, err := s.cfg.Analytics.SelectionSummary(c.Request.Context(), daysParam(c))
	if err != nil {
		abort(c, fmt.Errorf("selection summary: %w", err))
		return
	}
	success(c, http.StatusOK, rows)
}

func (s *Server) providers(c *gin.Context) {
	if s.cfg.Analytics == nil {
		abort(c, errNoDatabase)
		return
	}
	rows, err := s.cfg.Analytics.Providers(c.Request.Context())
	if err != nil {
		abort(c, fmt.Errorf("providers: %w", err))
		return
	}
	success(c, http.StatusOK, rows)
}
