package store

import "github.com/golemfactory/erc20-payment-driver-go/internal/model"

func rowFromTransfer(t *model.TokenTransfer) *tokenTransferRow {
	return &tokenTransferRow{
		ID:            t.ID,
		PaymentID:     t.PaymentID,
		From:          t.From,
		Receiver:      t.Receiver,
		ChainID:       t.ChainID,
		Token:         t.Token,
		Amount:        bigToStr(t.Amount),
		DepositID:     t.DepositID,
		DepositFinish: t.DepositFinish,
		CreateDate:    t.CreateDate,
		Deadline:      t.Deadline,
		TxID:          t.TxID,
		PaidDate:      t.PaidDate,
		FeePaid:       bigToStrPtr(t.FeePaid),
		Error:         t.Error,
	}
}

func transferFromRow(r *tokenTransferRow) *model.TokenTransfer {
	return &model.TokenTransfer{
		ID:            r.ID,
		PaymentID:     r.PaymentID,
		From:          r.From,
		Receiver:      r.Receiver,
		ChainID:       r.ChainID,
		Token:         r.Token,
		Amount:        strToBig(r.Amount),
		DepositID:     r.DepositID,
		DepositFinish: r.DepositFinish,
		CreateDate:    r.CreateDate,
		Deadline:      r.Deadline,
		TxID:          r.TxID,
		PaidDate:      r.PaidDate,
		FeePaid:       strPtrToBig(r.FeePaid),
		Error:         r.Error,
	}
}

func rowFromTx(t *model.Transaction) *transactionRow {
	return &transactionRow{
		ID:                t.ID,
		Method:            string(t.Method),
		From:              t.From,
		To:                t.To,
		ChainID:           t.ChainID,
		Nonce:             t.Nonce,
		GasLimit:          t.GasLimit,
		MaxFeePerGas:      bigToStrPtr(t.MaxFeePerGas),
		PriorityFee:       bigToStrPtr(t.PriorityFee),
		Val:               bigToStr(t.Val),
		CallData:          t.CallData,
		SignedRaw:         t.SignedRaw,
		SignedDate:        t.SignedDate,
		TxHash:            t.TxHash,
		BroadcastDate:     t.BroadcastDate,
		FirstStuckDate:    t.FirstStuckDate,
		ConfirmDate:       t.ConfirmDate,
		BlockNumber:       t.BlockNumber,
		ChainStatus:       t.ChainStatus,
		EffectiveGasPrice: bigToStrPtr(t.EffectiveGasPrice),
		GasUsed:           t.GasUsed,
		FeePaid:           bigToStrPtr(t.FeePaid),
		EngineMessage:     t.EngineMessage,
		EngineError:       t.EngineError,
		Unrecoverable:     t.Unrecoverable,
		CreateDate:        t.CreateDate,
	}
}

func txFromRow(r *transactionRow) *model.Transaction {
	return &model.Transaction{
		ID:                r.ID,
		Method:            model.TxMethod(r.Method),
		From:              r.From,
		To:                r.To,
		ChainID:           r.ChainID,
		Nonce:             r.Nonce,
		GasLimit:          r.GasLimit,
		MaxFeePerGas:      strPtrToBig(r.MaxFeePerGas),
		PriorityFee:       strPtrToBig(r.PriorityFee),
		Val:               strToBig(r.Val),
		CallData:          r.CallData,
		SignedRaw:         r.SignedRaw,
		SignedDate:        r.SignedDate,
		TxHash:            r.TxHash,
		BroadcastDate:     r.BroadcastDate,
		FirstStuckDate:    r.FirstStuckDate,
		ConfirmDate:       r.ConfirmDate,
		BlockNumber:       r.BlockNumber,
		ChainStatus:       r.ChainStatus,
		EffectiveGasPrice: strPtrToBig(r.EffectiveGasPrice),
		GasUsed:           r.GasUsed,
		FeePaid:           strPtrToBig(r.FeePaid),
		EngineMessage:     r.EngineMessage,
		EngineError:       r.EngineError,
		Unrecoverable:     r.Unrecoverable,
		CreateDate:        r.CreateDate,
	}
}

func rowFromAllowance(a *model.Allowance) *allowanceRow {
	return &allowanceRow{
		Owner:       a.Owner,
		Token:       a.Token,
		Spender:     a.Spender,
		ChainID:     a.ChainID,
		Allowance:   bigToStr(a.Allowance),
		ConfirmDate: a.ConfirmDate,
	}
}

func allowanceFromRow(r *allowanceRow) *model.Allowance {
	return &model.Allowance{
		Owner:       r.Owner,
		Token:       r.Token,
		Spender:     r.Spender,
		ChainID:     r.ChainID,
		Allowance:   strToBig(r.Allowance),
		ConfirmDate: r.ConfirmDate,
	}
}
