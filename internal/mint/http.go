package mint

import (
	"encoding/hex"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gin-gonic/gin"

	"github.com/hashpool/hashpool/internal/cashu"
	"github.com/hashpool/hashpool/internal/ehash"
	"github.com/hashpool/hashpool/pkg/log"
)

// HTTPServer exposes the Cashu endpoints the translator wallet uses:
// keyset discovery, quote state, and proof minting.
type HTTPServer struct {
	svc    *Service
	logger *log.Logger
}

// NewHTTPServer creates the wallet-facing HTTP API
func NewHTTPServer(svc *Service, logger *log.Logger) *HTTPServer {
	return &HTTPServer{
		svc:    svc,
		logger: logger.WithComponent("mint_http"),
	}
}

// Router builds the gin handler
func (h *HTTPServer) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/v1")
	{
		v1.GET("/keysets", h.getKeysets)
		v1.GET("/mint/quote/:id", h.getQuote)
		v1.POST("/mint", h.mintProofs)
	}
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

type keysetInfo struct {
	ID     string            `json:"id"`
	Unit   string            `json:"unit"`
	Active bool              `json:"active"`
	Keys   map[uint64]string `json:"keys"`
}

func (h *HTTPServer) getKeysets(c *gin.Context) {
	keyset := h.svc.Keyset()

	keys := make(map[uint64]string, cashu.MaxOrder)
	for amount, pub := range keyset.PublicKeys() {
		keys[amount] = hex.EncodeToString(pub)
	}

	c.JSON(http.StatusOK, gin.H{
		"keysets": []keysetInfo{{
			ID:     hex.EncodeToString(keyset.ID[:]),
			Unit:   ehash.Unit,
			Active: true,
			Keys:   keys,
		}},
	})
}

type quoteStateResponse struct {
	Quote  string `json:"quote"`
	Amount uint64 `json:"amount"`
	Unit   string `json:"unit"`
	State  string `json:"state"`
	Expiry int64  `json:"expiry"`
}

func (h *HTTPServer) getQuote(c *gin.Context) {
	quote, err := h.svc.store.GetQuote(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "quote not found"})
		return
	}

	c.JSON(http.StatusOK, quoteStateResponse{
		Quote:  quote.ID,
		Amount: quote.Amount,
		Unit:   quote.Unit,
		State:  quote.State,
		Expiry: quote.ExpiresAt.Unix(),
	})
}

type mintRequest struct {
	Quote   string                 `json:"quote"`
	Outputs []cashu.BlindedMessage `json:"outputs"`
	Witness string                 `json:"witness"`
}

type mintResponse struct {
	Signatures []cashu.BlindSignature `json:"signatures"`
}

// mintProofs redeems a quote into blind signatures. The NUT-20 witness
// must be signed by the quote's locking key, and a quote can be
// redeemed exactly once.
func (h *HTTPServer) mintProofs(c *gin.Context) {
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request"})
		return
	}
	if len(req.Outputs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no outputs"})
		return
	}

	ctx := c.Request.Context()
	quote, err := h.svc.store.GetQuote(ctx, req.Quote)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "quote not found"})
		return
	}
	if quote.Expired(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quote expired"})
		return
	}

	keyset := h.svc.Keyset()
	keysetHex := hex.EncodeToString(keyset.ID[:])
	var total uint64
	for _, out := range req.Outputs {
		if out.KeysetID != keysetHex {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown keyset id"})
			return
		}
		total += out.Amount
	}
	if total != quote.Amount {
		c.JSON(http.StatusBadRequest, gin.H{"error": "output amounts do not match quote"})
		return
	}

	if err := cashu.VerifyQuoteWitness(quote.LockingPubKey, quote.ID, req.Outputs, req.Witness); err != nil {
		h.logger.WithQuote(quote.ID, quote.Amount).WithError(err).Warn("witness verification failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid witness"})
		return
	}

	// Fully validate the outputs before claiming the quote, so a
	// malformed request cannot burn it.
	type signable struct {
		amount  uint64
		blinded *secp256k1.PublicKey
	}
	work := make([]signable, 0, len(req.Outputs))
	for _, out := range req.Outputs {
		blinded, err := cashu.ParsePoint(out.B)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid blinded message"})
			return
		}
		if _, err := keyset.PrivateKey(out.Amount); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported amount"})
			return
		}
		work = append(work, signable{amount: out.Amount, blinded: blinded})
	}

	// Claim the quote before signing so a concurrent redeem loses
	if err := h.svc.store.MarkIssued(ctx, quote.ID); err != nil {
		if stderrors.Is(err, ErrQuoteAlreadyIssued) {
			c.JSON(http.StatusConflict, gin.H{"error": "quote already issued"})
			return
		}
		h.logger.WithError(err).Error("failed to mark quote issued")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}

	signatures := make([]cashu.BlindSignature, 0, len(work))
	for _, item := range work {
		key, _ := keyset.PrivateKey(item.amount)
		signatures = append(signatures, cashu.BlindSignature{
			Amount:   item.amount,
			KeysetID: keysetHex,
			C:        cashu.PointHex(cashu.SignBlinded(key, item.blinded)),
		})
	}

	h.logger.LogQuoteIssued(quote.ShareHash, quote.ID, quote.Amount)
	c.JSON(http.StatusOK, mintResponse{Signatures: signatures})
}
