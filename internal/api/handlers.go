package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"termpool/internal/model"
	"termpool/internal/pool"
)

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

type startRequest struct {
	Start time.Time `json:"start"`
}

type ownerRequest struct {
	Owner model.Account `json:"owner"`
}

type roundResponse struct {
	model.Round
	Phase             string `json:"phase"`
	FundingWindowOpen bool   `json:"funding_window_open"`
	Depositors        int    `json:"depositors"`
	Outstanding       int    `json:"outstanding"`
	AmountOwed        uint64 `json:"amount_owed"`
}

type accountResponse struct {
	Account          model.Account `json:"account"`
	AllowListed      bool          `json:"allowlisted"`
	Member           bool          `json:"member"`
	MembershipExpiry *time.Time    `json:"membership_expiry,omitempty"`
	Deposit          uint64        `json:"deposit"`
	Withdrawn        bool          `json:"withdrawn"`
	Interest         uint64        `json:"interest"`
}

func caller(c *gin.Context) model.Account {
	return model.Account(c.GetHeader(AccountHeader))
}

func (s *Server) getRound(c *gin.Context) {
	r := s.pool.Round()
	c.JSON(http.StatusOK, roundResponse{
		Round:             r,
		Phase:             s.pool.Phase().String(),
		FundingWindowOpen: s.pool.FundingWindowOpen(),
		Depositors:        len(s.pool.Directory()),
		Outstanding:       len(s.pool.Outstanding()),
		AmountOwed:        s.pool.AmountOwed(),
	})
}

func (s *Server) getTerms(c *gin.Context) {
	c.JSON(http.StatusOK, s.pool.Terms())
}

func (s *Server) getOwner(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"owner": s.pool.Owner()})
}

func (s *Server) getDirectory(c *gin.Context) {
	dir := s.pool.Directory()
	if dir == nil {
		dir = []model.Account{}
	}
	c.JSON(http.StatusOK, gin.H{"directory": dir})
}

func (s *Server) getAccount(c *gin.Context) {
	acct := model.Account(c.Param("account"))
	rec, _ := s.pool.DepositOf(acct)
	resp := accountResponse{
		Account:     acct,
		AllowListed: s.pool.IsAllowListed(acct),
		Member:      s.pool.IsMember(acct),
		Deposit:     rec.Amount,
		Withdrawn:   rec.Withdrawn,
		Interest:    s.pool.InterestFor(rec.Amount),
	}
	if expiry := s.pool.MembershipExpiry(acct); !expiry.IsZero() {
		resp.MembershipExpiry = &expiry
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getEvents(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	var (
		events []model.Event
		err    error
	)
	if acct := c.Query("account"); acct != "" {
		events, err = s.recorder.AccountEvents(model.Account(acct), limit)
	} else {
		events, err = s.recorder.Events(limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err, ""))
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) payMembership(c *gin.Context) {
	acct := caller(c)
	expiry, err := s.pool.PayMembership(c.Request.Context(), acct)
	if err != nil {
		poolError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct, "expiry": expiry})
}

func (s *Server) deposit(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	acct := caller(c)
	if err := s.pool.Deposit(c.Request.Context(), acct, req.Amount); err != nil {
		poolError(c, err)
		return
	}
	rec, _ := s.pool.DepositOf(acct)
	c.JSON(http.StatusOK, gin.H{"account": acct, "deposit": rec.Amount})
}

func (s *Server) withdraw(c *gin.Context) {
	acct := caller(c)
	total, err := s.pool.Withdraw(c.Request.Context(), acct)
	if err != nil {
		poolError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct, "amount": total})
}

func (s *Server) forfeit(c *gin.Context) {
	acct := model.Account(c.Param("account"))
	released, err := s.pool.ForfeitDeposit(c.Request.Context(), caller(c), acct)
	if err != nil {
		poolError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct, "released": released})
}

func (s *Server) addToAllowList(c *gin.Context) {
	acct := model.Account(c.Param("account"))
	if err := s.pool.AddToAllowList(c.Request.Context(), caller(c), acct); err != nil {
		poolError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct, "allowlisted": true})
}

func (s *Server) removeFromAllowList(c *gin.Context) {
	acct := model.Account(c.Param("account"))
	if err := s.pool.RemoveFromAllowList(c.Request.Context(), caller(c), acct); err != nil {
		poolError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct, "allowlisted": false})
}

func (s *Server) sweep(c *gin.Context) {
	amount, err := s.pool.TransferToOwner(c.Request.Context(), caller(c))
	if err != nil {
		poolError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": amount})
}

func (s *Server) fundDispersal(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.pool.DepositForDispersal(c.Request.Context(), caller(c), req.Amount); err != nil {
		poolError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispersal_funds": s.pool.Round().DispersalFunds})
}

func (s *Server) setRoundStart(c *gin.Context) {
	start, ok := bindStart(c)
	if !ok {
		return
	}
	if err := s.pool.SetRoundStart(c.Request.Context(), caller(c), start); err != nil {
		poolError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.pool.Round())
}

func (s *Server) reset(c *gin.Context) {
	start, ok := bindStart(c)
	if !ok {
		return
	}
	if err := s.pool.ResetForNewRound(c.Request.Context(), caller(c), start); err != nil {
		poolError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.pool.Round())
}

func (s *Server) updateTerms(c *gin.Context) {
	var terms model.Terms
	if err := c.ShouldBindJSON(&terms); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.pool.UpdateTerms(c.Request.Context(), caller(c), terms); err != nil {
		poolError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.pool.Terms())
}

// recoverFunds only reaches the pool's own asset; other assets are recovered
// through the pool API directly.
func (s *Server) recoverFunds(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.pool.RecoverFunds(c.Request.Context(), caller(c), nil, req.Amount); err != nil {
		poolError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": req.Amount})
}

func (s *Server) transferOwnership(c *gin.Context) {
	var req ownerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Owner == "" {
		badRequest(c, errors.New("owner is required"))
		return
	}
	if err := s.pool.TransferOwnership(c.Request.Context(), caller(c), req.Owner); err != nil {
		poolError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": req.Owner})
}

func bindStart(c *gin.Context) (time.Time, bool) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return time.Time{}, false
	}
	if req.Start.IsZero() {
		badRequest(c, errors.New("start is required"))
		return time.Time{}, false
	}
	return req.Start.UTC(), true
}

func errorBody(err error, class string) gin.H {
	body := map[string]string{"message": err.Error()}
	if class != "" {
		body["class"] = class
	}
	return gin.H{"error": body}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorBody(err, "request"))
}

// poolError maps a pool error class to an HTTP status.
func poolError(c *gin.Context, err error) {
	status, class := http.StatusInternalServerError, ""
	switch pool.Class(err) {
	case pool.ErrPhase:
		status, class = http.StatusConflict, "phase"
	case pool.ErrState:
		status, class = http.StatusConflict, "state"
	case pool.ErrUnauthorized:
		status, class = http.StatusForbidden, "authorization"
	case pool.ErrIneligible:
		status, class = http.StatusForbidden, "eligibility"
	case pool.ErrCapacity:
		status, class = http.StatusUnprocessableEntity, "capacity"
	case pool.ErrTransfer:
		status, class = http.StatusPaymentRequired, "transfer"
	}
	c.JSON(status, errorBody(err, class))
}
