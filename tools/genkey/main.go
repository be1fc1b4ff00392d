package main

import (
	"fmt"
	"os"

	"market-pay/common"
)

func main() {
	// 普通 API Key 用于下单接口，管理员 Key 用于对账与配置接口
	apiKey, err := common.GenerateAPIKey()
	if err != nil {
		fmt.Printf("❌ 生成 API Key 失败: %v\n", err)
		os.Exit(1)
	}
	adminKey, err := common.GenerateAPIKey()
	if err != nil {
		fmt.Printf("❌ 生成管理员 API Key 失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✅ API Key 生成成功！")
	fmt.Println("")
	fmt.Println("普通 API Key（/payment/orders）：")
	fmt.Printf("  %s\n", apiKey)
	fmt.Println("")
	fmt.Println("管理员 API Key（/payment/admin）：")
	fmt.Printf("  %s\n", adminKey)
	fmt.Println("")
	fmt.Println("使用方法：")
	fmt.Println("  1. 设置环境变量（设置后自动开启认证）：")
	fmt.Printf("     export API_KEYS=\"%s\"\n", apiKey)
	fmt.Printf("     export ADMIN_API_KEYS=\"%s\"\n", adminKey)
	fmt.Println("")
	fmt.Println("  2. 在请求头中添加：")
	fmt.Println("     X-API-Key: <your-api-key>")
	fmt.Println("     或")
	fmt.Println("     Authorization: Bearer <your-api-key>")
	fmt.Println("")
	fmt.Println("⚠️  请妥善保管这些密钥，不要泄露！")
}
