package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"termpool/internal/model"
	"termpool/internal/pool"
)

// minter is implemented by assets this process issues itself.
type minter interface {
	Mint(account model.Account, amount uint64) error
}

type mintRequest struct {
	Account model.Account `json:"account"`
	Amount  uint64        `json:"amount"`
}

func (s *Server) getBalance(c *gin.Context) {
	acct := model.Account(c.Param("account"))
	token := s.pool.Asset()
	c.JSON(http.StatusOK, gin.H{
		"asset":     token.Name(),
		"account":   acct,
		"balance":   token.BalanceOf(acct),
		"allowance": token.Allowance(acct, s.pool.Account()),
	})
}

// approve sets the caller's allowance for the pool account.
func (s *Server) approve(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	acct := caller(c)
	if err := s.pool.Asset().Approve(acct, s.pool.Account(), req.Amount); err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err, ""))
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct, "allowance": req.Amount})
}

// mint credits the pool's asset. Only the pool owner may issue.
func (s *Server) mint(c *gin.Context) {
	if caller(c) != s.pool.Owner() {
		poolError(c, pool.ErrNotOwner)
		return
	}
	m, ok := s.pool.Asset().(minter)
	if !ok {
		c.JSON(http.StatusNotImplemented, errorBody(errors.New("asset is not issued by this server"), ""))
		return
	}
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Account == "" || req.Amount == 0 {
		badRequest(c, errors.New("account and amount are required"))
		return
	}
	if err := m.Mint(req.Account, req.Amount); err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorBody(err, "capacity"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": req.Account, "balance": s.pool.Asset().BalanceOf(req.Account)})
}
