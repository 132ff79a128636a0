package kis

// tokenResponse is the OAuth token grant response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// apiEnvelope carries the common KIS response header fields.
type apiEnvelope struct {
	RtCd  string `json:"rt_cd"` // "0" on success
	MsgCd string `json:"msg_cd"`
	Msg1  string `json:"msg1"`
}

// priceOutput is the inquire-price payload.
type priceOutput struct {
	StckPrpr string `json:"stck_prpr"` // current price
	PrdyCtrt string `json:"prdy_ctrt"` // change rate vs previous close, percent
	AcmlVol  string `json:"acml_vol"`  // accumulated volume
}

type priceResponse struct {
	apiEnvelope
	Output priceOutput `json:"output"`
}

// chartRow is one minute bar in the itemchartprice payload.
type chartRow struct {
	BsopDate string `json:"stck_bsop_date"` // YYYYMMDD
	CntgHour string `json:"stck_cntg_hour"` // HHMMSS, bar close time
	Oprc     string `json:"stck_oprc"`
	Hgpr     string `json:"stck_hgpr"`
	Lwpr     string `json:"stck_lwpr"`
	Prpr     string `json:"stck_prpr"` // close
	CntgVol  string `json:"cntg_vol"`
}

type chartResponse struct {
	apiEnvelope
	Output2 []chartRow `json:"output2"`
}

// orderOutput is the order-cash payload.
type orderOutput struct {
	Odno     string `json:"ODNO"`               // broker order number
	OrdOrgno string `json:"KRX_FWDG_ORD_ORGNO"` // forwarding branch, needed for cancel
	OrdTmd   string `json:"ORD_TMD"`
}

type orderResponse struct {
	apiEnvelope
	Output orderOutput `json:"output"`
}

// ccldRow is one order row in the daily-ccld payload.
type ccldRow struct {
	Odno       string `json:"odno"`
	OrdQty     string `json:"ord_qty"`
	TotCcldQty string `json:"tot_ccld_qty"` // cumulative filled
	RmnQty     string `json:"rmn_qty"`      // remaining
	TotCcldAmt string `json:"tot_ccld_amt"` // cumulative fill notional
	CnclYn     string `json:"cncl_yn"`      // "Y" when cancelled
}

type ccldResponse struct {
	apiEnvelope
	Output1 []ccldRow `json:"output1"`
}
