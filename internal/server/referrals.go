package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	referraldomain "github.com/smallbiznis/referralledger/internal/referral/domain"
	"github.com/smallbiznis/referralledger/pkg/db/pagination"
)

type rejectReferralRequest struct {
	Reason string `json:"reason"`
}

type markPaidRequest struct {
	TransferReference string `json:"transfer_reference"`
}

type listReferralsQuery struct {
	Status string `form:"status"`
	pagination.Pagination
}

func (s *Server) GetReferral(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ref, err := s.referral.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": ref})
}

func (s *Server) ApproveReferral(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ref, err := s.referral.Approve(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": ref})
}

func (s *Server) RejectReferral(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req rejectReferralRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	ref, err := s.referral.Reject(c.Request.Context(), id, referraldomain.RejectRequest{
		Reason: strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": ref})
}

func (s *Server) ReleaseReferral(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ref, err := s.referral.Release(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": ref})
}

func (s *Server) MarkReferralPaid(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req markPaidRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	ref, err := s.referral.MarkPaid(c.Request.Context(), id, referraldomain.MarkPaidRequest{
		TransferReference: strings.TrimSpace(req.TransferReference),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": ref})
}

func (s *Server) ListBrokerReferrals(c *gin.Context) {
	brokerID, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var query listReferralsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.referral.ListByBroker(c.Request.Context(), brokerID, referraldomain.ListRequest{
		Status:     query.Status,
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      resp.Referrals,
		"page_info": resp.PageInfo,
	})
}
