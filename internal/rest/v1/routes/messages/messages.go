package messages

import (
	"strconv"
	"time"

	"github.com/seventv/common/errors"
	jsoniter "github.com/json-iterator/go"
	"github.com/seventv/relay/data/model"
	"github.com/seventv/relay/internal/events"
	"github.com/seventv/relay/internal/global"
	"github.com/seventv/relay/internal/rest/middleware"
	"github.com/seventv/relay/internal/rest/rest"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const broadcastTarget = "broadcast"

type route struct {
	gCtx global.Context
}

func New(gCtx global.Context) rest.Route {
	return &route{gCtx}
}

func (r *route) Config() rest.RouteConfig {
	cfg := r.gCtx.Config()

	return rest.RouteConfig{
		URI:    "/messages",
		Method: rest.POST,
		Middleware: []rest.Middleware{
			middleware.Auth(r.gCtx),
			middleware.RateLimit(r.gCtx, "publish", cfg.Limits.PublishCount, cfg.Limits.PublishWindow),
		},
	}
}

type PublishRequest struct {
	ClientID string             `json:"clientId"`
	Data     PublishRequestData `json:"data"`
}

type PublishRequestData struct {
	Text            string `json:"text"`
	SenderID        string `json:"senderId"`
	SenderName      string `json:"senderName"`
	IsDirectMessage bool   `json:"isDirectMessage"`
	RecipientID     string `json:"recipientId,omitempty"`
}

func (r *route) Handler(ctx *rest.Ctx) rest.APIError {
	if _, ok := ctx.GetActor(); !ok {
		return errors.ErrUnauthorized()
	}

	req := PublishRequest{}
	if err := json.Unmarshal(ctx.Request.Body(), &req); err != nil {
		return errors.ErrInvalidRequest().SetDetail("Invalid Body").SetFields(errors.Fields{
			"JSON_ERROR": err.Error(),
		})
	}

	if req.ClientID == "" {
		return errors.ErrMissingRequiredField().SetFields(errors.Fields{"field": "clientId"})
	}

	if req.Data.Text == "" {
		return errors.ErrMissingRequiredField().SetFields(errors.Fields{"field": "data.text"})
	}

	if req.Data.SenderID == "" {
		return errors.ErrMissingRequiredField().SetFields(errors.Fields{"field": "data.senderId"})
	}

	now := time.Now()
	msg := model.MessageModel{
		ID:              strconv.FormatInt(now.UnixMilli(), 10),
		Text:            req.Data.Text,
		Timestamp:       events.Timestamp(now),
		SenderID:        req.Data.SenderID,
		SenderName:      req.Data.SenderName,
		IsDirectMessage: req.Data.IsDirectMessage,
		RecipientID:     req.Data.RecipientID,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.ErrInternalServerError().SetDetail(err.Error())
	}

	channel := r.gCtx.Inst().Bus.GlobalChannel()
	if req.ClientID != broadcastTarget {
		channel, err = r.gCtx.Inst().Aliases.GetChannelAlias(ctx, req.ClientID)
		if err != nil {
			return errors.ErrInternalServerError().SetDetail(err.Error())
		}
	}

	// Receiver count is not part of the contract: publishing into an
	// empty channel is still a successful publish
	if _, err := r.gCtx.Inst().Bus.Publish(ctx, channel, payload); err != nil {
		return errors.ErrInternalServerError().SetDetail("Failed to send message")
	}

	return ctx.JSON(rest.OK, &Response{Success: true})
}

type Response struct {
	Success bool `json:"success"`
}
