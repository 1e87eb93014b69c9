package vm

// GasMeter tracks the gas budget of one frame
type GasMeter struct {
	limit uint64
	used  uint64
}

func NewGasMeter(limit uint64) *GasMeter {
	return &GasMeter{limit: limit}
}

// Charge consumes amount, or fails with ErrOutOfGas leaving the meter unchanged
func (g *GasMeter) Charge(amount uint64) error {
	if amount > g.limit-g.used {
		return ErrOutOfGas
	}
	g.used += amount
	return nil
}

// Refund returns gas to the meter. It never gives back more than was consumed.
func (g *GasMeter) Refund(amount uint64) {
	if amount > g.used {
		amount = g.used
	}
	g.used -= amount
}

func (g *GasMeter) Remaining() uint64 { return g.limit - g.used }
func (g *GasMeter) Used() uint64      { return g.used }
func (g *GasMeter) Limit() uint64     { return g.limit }

// ConsumeAll burns whatever is left
func (g *GasMeter) ConsumeAll() {
	g.used = g.limit
}
