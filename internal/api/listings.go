package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"jobwatch/internal/match"
	"jobwatch/internal/model"
	"jobwatch/internal/scraper"
	"jobwatch/internal/storage"
)

const (
	defaultListingLimit = 50
	maxListingLimit     = 500
	// listingScanLimit bounds how many recent listings a criteria search
	// inspects.
	listingScanLimit = 2000
)

// ListingStore reads stored listings.
type ListingStore interface {
	GetListing(ctx context.Context, source model.Source, externalID string) (*model.Listing, error)
	ListListings(ctx context.Context, f storage.ListingFilter) ([]model.Listing, error)
}

// SearchRequest is the body of POST /api/v1/listings/search.
type SearchRequest struct {
	Criteria model.SearchCriteria `json:"criteria"`
	Source   model.Source         `json:"source"`
	Company  string               `json:"company"`
	Limit    int                  `json:"limit"`
}

// ListListings serves GET /api/v1/listings. Criteria parameters (keywords,
// location, job_type, experience_level, salary_min, salary_max) are applied
// with the same rules as profile matching; source and company filter in the
// store.
func (h *Handler) ListListings(c *gin.Context) {
	limit := defaultListingLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListingLimit)
	}
	source := model.Source(c.Query("source"))
	if err := checkSource(source); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	criteria, err := criteriaFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	listings, err := h.findListings(c.Request.Context(), criteria, source, strings.TrimSpace(c.Query("company")), limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, listings)
}

// SearchListings serves POST /api/v1/listings/search.
func (h *Handler) SearchListings(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := checkSource(req.Source); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must not be negative"})
		return
	}
	limit := defaultListingLimit
	if req.Limit > 0 {
		limit = min(req.Limit, maxListingLimit)
	}
	criteria := req.Criteria.WithDefaults()
	if err := criteria.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid criteria: %v", err)})
		return
	}

	listings, err := h.findListings(c.Request.Context(), &criteria, req.Source, strings.TrimSpace(req.Company), limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, listings)
}

// GetListing serves GET /api/v1/listings/:source/:external_id.
func (h *Handler) GetListing(c *gin.Context) {
	l, err := h.store.GetListing(c.Request.Context(), model.Source(c.Param("source")), c.Param("external_id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, l)
}

// findListings returns up to limit listings, newest first. With criteria set
// it scans the most recent listingScanLimit rows and keeps the matching ones.
func (h *Handler) findListings(ctx context.Context, criteria *model.SearchCriteria, source model.Source, company string, limit int) ([]model.Listing, error) {
	f := storage.ListingFilter{Source: source, Company: company, Limit: limit}
	if criteria != nil {
		f.Limit = listingScanLimit
	}
	listings, err := h.store.ListListings(ctx, f)
	if err != nil {
		return nil, err
	}

	out := make([]model.Listing, 0, min(len(listings), limit))
	for _, l := range listings {
		if len(out) == limit {
			break
		}
		if criteria == nil || match.Matches(l, *criteria) {
			out = append(out, l)
		}
	}
	return out, nil
}

// criteriaFromQuery builds criteria from query parameters. It returns nil
// when no criteria parameter is present.
func criteriaFromQuery(c *gin.Context) (*model.SearchCriteria, error) {
	var crit model.SearchCriteria
	for k := range strings.SplitSeq(c.Query("keywords"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			crit.Keywords = append(crit.Keywords, k)
		}
	}
	crit.Location = strings.TrimSpace(c.Query("location"))
	crit.JobType = model.JobType(c.Query("job_type"))
	crit.ExperienceLevel = model.ExperienceLevel(c.Query("experience_level"))

	bounds := []struct {
		name string
		dst  **int
	}{
		{"salary_min", &crit.SalaryMin},
		{"salary_max", &crit.SalaryMax},
	}
	for _, b := range bounds {
		raw := c.Query(b.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("%s must be a non-negative integer", b.name)
		}
		*b.dst = &v
	}

	if len(crit.Keywords) == 0 {
		if crit.Location != "" || crit.JobType != "" || crit.ExperienceLevel != "" || crit.SalaryMin != nil || crit.SalaryMax != nil {
			return nil, fmt.Errorf("invalid criteria: %w", model.ErrNoKeywords)
		}
		return nil, nil
	}
	crit = crit.WithDefaults()
	if err := crit.Validate(); err != nil {
		return nil, fmt.Errorf("invalid criteria: %w", err)
	}
	return &crit, nil
}

func checkSource(s model.Source) error {
	if s == "" || slices.Contains(scraper.KnownSources(), s) {
		return nil
	}
	return fmt.Errorf("unknown source %q", s)
}
