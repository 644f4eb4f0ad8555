package loadbalance

import (
	"math/rand/v2"

	"typed-rpc/discovery"
)

type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(_ string, instances []discovery.ServiceInstance) (*discovery.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	// 计算总权重，未设置权重的实例按 1 计
	totalWeight := 0
	for i := range instances {
		totalWeight += weight(&instances[i])
	}

	// 生成一个随机数，范围是0到总权重
	r := rand.IntN(totalWeight)
	for i := range instances {
		r -= weight(&instances[i])
		if r < 0 {
			return &instances[i], nil
		}
	}
	return &instances[len(instances)-1], nil
}

func weight(inst *discovery.ServiceInstance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
