package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	brokerdomain "github.com/smallbiznis/referralledger/internal/broker/domain"
	"github.com/smallbiznis/referralledger/internal/ledger/statement"
)

type payoutDestinationRequest struct {
	Destination string `json:"destination"`
}

func (s *Server) RegisterBroker(c *gin.Context) {
	var req brokerdomain.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	broker, err := s.brokerSvc.Register(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": broker})
}

func (s *Server) GetBroker(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	broker, err := s.brokerSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": broker})
}

func (s *Server) ApproveBroker(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req brokerdomain.ApproveRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}

	broker, err := s.brokerSvc.Approve(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": broker})
}

func (s *Server) DenyBroker(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	broker, err := s.brokerSvc.Deny(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": broker})
}

func (s *Server) SetPayoutDestination(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req payoutDestinationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	broker, err := s.brokerSvc.SetPayoutDestination(c.Request.Context(), id, strings.TrimSpace(req.Destination))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": broker})
}

func (s *Server) GetBrokerLedger(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.ledgerSvc.Summary(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

// GetBrokerStatement renders the broker's commission history as a PDF.
func (s *Server) GetBrokerStatement(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	stmt, err := s.ledgerSvc.Statement(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	doc, err := statement.Render(stmt)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="statement-%s.pdf"`, id.String()))
	c.Data(http.StatusOK, statement.ContentType, doc)
}
