package rpcserver

import "encoding/json"

type simpleReply struct {
	Code bool   `json:"code"`
	Msg  string `json:"msg"`
}

func (c *Connection) replyOK(cid uint16, msg string) {
	c.replyJSON(cid, simpleReply{Code: true, Msg: msg})
}

func (c *Connection) replyFail(cid uint16, msg string) {
	c.replyJSON(cid, simpleReply{Code: false, Msg: msg})
}

func (c *Connection) replyJSON(cid uint16, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		payload = []byte(`{"code":false,"msg":"internal error"}`)
	}
	_ = c.SendNotification(cid, payload)
}
